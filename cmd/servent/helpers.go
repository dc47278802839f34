package main

import (
	"strings"

	"github.com/simeonmiteff/gnutella-core/pkg/config"
	"github.com/simeonmiteff/gnutella-core/pkg/handshake"
	"github.com/simeonmiteff/gnutella-core/pkg/mq"
	"github.com/simeonmiteff/gnutella-core/pkg/peermgr"
)

// maxTTL is the protocol's maximum hop limit, used to size this servent's
// outbound queues and recognize fresh, full-TTL search traffic for swift
// eviction.
const maxTTL uint8 = 7

func newQueue() *mq.Queue {
	return mq.New(mq.DefaultWatermarks, maxTTL)
}

// admitRequestFromHeaders builds a peermgr.AdmitRequest from an inbound
// peer's leg-1 handshake headers.
func admitRequestFromHeaders(h *handshake.Headers, remoteAddr string) peermgr.AdmitRequest {
	mode := config.ModeNormal
	if v, ok := h.Get("X-Ultrapeer"); ok {
		if strings.EqualFold(v, "true") {
			mode = config.ModeUltra
		} else if strings.EqualFold(v, "false") {
			mode = config.ModeLeaf
		}
	}
	_, crawler := h.Get("Crawler")
	compressed := false
	if enc, ok := h.Get("Accept-Encoding"); ok {
		compressed = strings.Contains(strings.ToLower(enc), "deflate")
	}
	vendor, _ := h.Get("User-Agent")

	return peermgr.AdmitRequest{
		RemoteMode: mode,
		Vendor:     vendor,
		RemoteAddr: remoteAddr,
		Crawler:    crawler,
		Compressed: compressed,
	}
}
