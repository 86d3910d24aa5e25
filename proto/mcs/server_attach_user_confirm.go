package mcs

import (
	"bytes"
	"io"

	"github.com/proxysec/rdpmitm/core"
	"github.com/proxysec/rdpmitm/glog"
	"github.com/proxysec/rdpmitm/proto/mcs/per"
)

// ServerAttachUserConfirm assigns the requesting client its MCS user id.
// The proxy both reads one (target leg, playing the RDP client) and
// writes one (victim leg, playing the RDP server).
type ServerAttachUserConfirm struct {
	UserId uint16
}

func (c *ServerAttachUserConfirm) Read(r io.Reader) {
	core.ThrowIf(ReadMcsPduHeader(r) != MCS_PDUTYPE_ATTACH_USER_CONFIRM, "invalid pdu TYPE")
	core.ThrowIf(per.ReadEnumerated(r) != 0, "invalid enumerated")
	c.UserId = per.ReadInteger16(r, 0) + MCS_CHANNEL_USERID_BASE // userId base
	glog.Debugf("userId: %v", c.UserId)
}

func (c *ServerAttachUserConfirm) Write(w io.Writer) {
	// options bit 1 marks the optional initiator field as present.
	WriteMcsPduHeader(w, MCS_PDUTYPE_ATTACH_USER_CONFIRM, 2)
	per.WriteEnumerated(w, 0) // rt-successful
	per.WriteInteger16(w, c.UserId-MCS_CHANNEL_USERID_BASE, 0)
}

func (c *ServerAttachUserConfirm) Serialize() []byte {
	buf := new(bytes.Buffer)
	c.Write(buf)
	return buf.Bytes()
}
