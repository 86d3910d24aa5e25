package licPdu

import (
	"bytes"

	"github.com/proxysec/rdpmitm/glog"
)

// ParseLicenseBody inspects one decrypted licensing PDU body (the bytes
// after the security header) and reports whether the licensing exchange
// is complete. An ERROR_ALERT preamble is the valid-client shortcut, the
// terminal message of the exchange. Anything else (license request,
// platform challenge) is part of a full licensing negotiation this proxy
// does not participate in; it is logged and skipped, and the server,
// getting no reply, falls back to the error-alert path.
func ParseLicenseBody(body []byte) (complete bool) {
	r := bytes.NewReader(body)
	h := PreambleHeader{}
	h.Read(r)

	if h.BMsgType != ERROR_ALERT {
		glog.Debugf("ignoring licensing message type %#x (%d bytes)", h.BMsgType, h.WMsgSize)
		return false
	}

	d := LicenseValidClientData{Preamble: h}
	d.readBody(r)
	glog.Debugf("licensing complete: error=%#x transition=%#x", d.DwErrorCode, d.DwStateTransition)
	return true
}
