package mitm

import (
	"github.com/proxysec/rdpmitm/core"
	"github.com/proxysec/rdpmitm/engine"
	"github.com/proxysec/rdpmitm/glog"
	"github.com/proxysec/rdpmitm/proto/mcs"
	"github.com/proxysec/rdpmitm/proto/x224"
)

// teardown tears both legs of a session down symmetrically: each leg
// whose engine reached Active is sent its own DisconnectProviderUltimatum,
// then both transports are closed; a leg that never reached Active is
// just closed. It is the Run supervisor's deferred cleanup and
// must never itself panic, since it runs during unwind from a recovered
// panic.
func (s *Session) teardown(reason string) {
	if s.victim.State == engine.ClientStateActive {
		core.TryCatch(func() {
			s.notifyDisconnect(s.victim.Transport)
		}, func(e any) {
			glog.Debugf("session %s: victim disconnect notice failed: %v", s.ID, e)
		})
	}

	if s.target != nil && s.target.State == engine.ServerStateActive {
		core.TryCatch(func() {
			s.notifyDisconnect(s.target.Transport)
		}, func(e any) {
			glog.Debugf("session %s: target disconnect notice failed: %v", s.ID, e)
		})
	}

	s.victim.Transport.Close()
	if s.target != nil {
		s.target.Transport.Close()
	}

	s.rec.Close(reason)
	s.log.InfoStructured("session closed", map[string]interface{}{
		"session_id": s.ID,
		"reason":     reason,
	})
}

// notifyDisconnect writes a best-effort DisconnectProviderUltimatum to a
// leg that is still open. Reason 3 is rn-user-requested (T.125 8.4.11),
// a reasonable default for a MITM-initiated close since the real cause
// (relay failure, MAC mismatch, negotiation failure) is not one any real
// RDP client or server would know how to react to differently.
func (s *Session) notifyDisconnect(transport interface {
	Write([]byte) (int, error)
}) {
	d := &mcs.DisconnectProviderUltimatum{Reason: 3}
	x224.Write(transport, d.Serialize())
}
