package main

import (
	"testing"

	"github.com/simeonmiteff/gnutella-core/pkg/config"
	"github.com/simeonmiteff/gnutella-core/pkg/handshake"
)

func TestAdmitRequestFromHeadersDefaults(t *testing.T) {
	h := handshake.NewHeaders()
	req := admitRequestFromHeaders(h, "192.0.2.1:6346")

	if req.RemoteMode != config.ModeNormal {
		t.Errorf("RemoteMode = %v, want ModeNormal", req.RemoteMode)
	}
	if req.Crawler {
		t.Error("Crawler = true, want false")
	}
	if req.Compressed {
		t.Error("Compressed = true, want false")
	}
	if req.RemoteAddr != "192.0.2.1:6346" {
		t.Errorf("RemoteAddr = %q", req.RemoteAddr)
	}
}

func TestAdmitRequestFromHeadersUltrapeerAndDeflate(t *testing.T) {
	h := handshake.NewHeaders()
	h.Set("X-Ultrapeer", "true")
	h.Set("Accept-Encoding", "deflate, gzip")
	h.Set("User-Agent", "TestAgent/1.0")

	req := admitRequestFromHeaders(h, "192.0.2.2:6346")

	if req.RemoteMode != config.ModeUltra {
		t.Errorf("RemoteMode = %v, want ModeUltra", req.RemoteMode)
	}
	if !req.Compressed {
		t.Error("Compressed = false, want true")
	}
	if req.Vendor != "TestAgent/1.0" {
		t.Errorf("Vendor = %q", req.Vendor)
	}
}

func TestAdmitRequestFromHeadersLeaf(t *testing.T) {
	h := handshake.NewHeaders()
	h.Set("X-Ultrapeer", "false")

	req := admitRequestFromHeaders(h, "192.0.2.3:6346")

	if req.RemoteMode != config.ModeLeaf {
		t.Errorf("RemoteMode = %v, want ModeLeaf", req.RemoteMode)
	}
}

func TestAdmitRequestFromHeadersCrawler(t *testing.T) {
	h := handshake.NewHeaders()
	h.Set("Crawler", "0.1")

	req := admitRequestFromHeaders(h, "192.0.2.4:6346")

	if !req.Crawler {
		t.Error("Crawler = false, want true")
	}
}
