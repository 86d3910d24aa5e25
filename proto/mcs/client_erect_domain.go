package mcs

import (
	"bytes"
	"io"

	"github.com/proxysec/rdpmitm/proto/mcs/per"
)

// ClientErectDomain is the ErectDomainRequest sent right after a
// successful MCS connect. Both the subHeight and subInterval fields are
// always zero for RDP and servers ignore them.
type ClientErectDomain struct{}

func (e *ClientErectDomain) Write(w io.Writer) {
	WriteMcsPduHeader(w, MCS_PDUTYPE_ERECT_DOMAIN_REQUEST, 0)
	per.WriteInteger(w, 0) // subHeight
	per.WriteInteger(w, 0) // subInterval
}

func (e *ClientErectDomain) Serialize() []byte {
	buff := new(bytes.Buffer)
	e.Write(buff)
	return buff.Bytes()
}
