package rpcconn

import (
	"testing"
)

func TestParseConnString(t *testing.T) {
	cases := []struct {
		in     string
		scheme string
		addr   string
		auth   AuthMethod
		cookie string
	}{
		{"unix:/var/run/arti/rpc.sock", "unix", "/var/run/arti/rpc.sock", AuthInherent, ""},
		{"unix:/sock?auth=none", "unix", "/sock", AuthInherent, ""},
		{"unix:/sock?auth=cookie:/run/arti/rpc.cookie", "unix", "/sock", AuthCookie, "/run/arti/rpc.cookie"},
		{"tcp:127.0.0.1:18929", "tcp", "127.0.0.1:18929", AuthInherent, ""},
		{"tcp:[::1]:18929?auth=cookie:/c", "tcp", "[::1]:18929", AuthCookie, "/c"},
		{"ws://127.0.0.1:8080/rpc", "ws", "ws://127.0.0.1:8080/rpc", AuthInherent, ""},
		{"wss://daemon.example/rpc?auth=cookie:/c", "wss", "wss://daemon.example/rpc", AuthCookie, "/c"},
	}
	for _, c := range cases {
		cs, err := ParseConnString(c.in)
		if err != nil {
			t.Errorf("ParseConnString(%q) failed: %s", c.in, err)
			continue
		}
		if cs.Scheme != c.scheme || cs.Addr != c.addr || cs.Auth != c.auth || cs.CookiePath != c.cookie {
			t.Errorf("ParseConnString(%q) = %+v", c.in, cs)
		}
	}
}

func TestParseConnStringRejects(t *testing.T) {
	cases := []struct {
		in     string
		status Status
	}{
		{"", StatusInvalidInput},
		{"unix:relative/path", StatusInvalidInput},
		{"tcp:127.0.0.1", StatusInvalidInput},
		{"tcp:127.0.0.1:notaport", StatusInvalidInput},
		{"tcp::0", StatusInvalidInput},
		{"ws://", StatusInvalidInput},
		{"unix:/sock?auth=cookie:relative", StatusInvalidInput},
		{"carrier-pigeon:coop7", StatusNotSupported},
		{"unix:/sock?auth=telepathy", StatusNotSupported},
	}
	for _, c := range cases {
		_, err := ParseConnString(c.in)
		if StatusOf(err) != c.status {
			t.Errorf("ParseConnString(%q) = %v, want status %s", c.in, err, c.status)
		}
	}
}

func TestConnStringString(t *testing.T) {
	cases := map[string]string{
		"unix:/sock?auth=none":    "unix:/sock",
		"tcp:127.0.0.1:18929":     "tcp:127.0.0.1:18929",
		"ws://127.0.0.1:8080/rpc": "ws://127.0.0.1:8080/rpc",
	}
	for in, want := range cases {
		cs, err := ParseConnString(in)
		if err != nil {
			t.Fatalf("ParseConnString(%q) failed: %s", in, err)
		}
		if cs.String() != want {
			t.Errorf("String() = %q, want %q", cs.String(), want)
		}
	}
}
