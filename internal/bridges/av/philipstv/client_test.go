package philipstv

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/icholy/digest"
)

// fakeTV serves a minimal JointSpace API.
type fakeTV struct {
	mu         sync.Mutex
	powerState string
	volume     Volume
	notify     string
	posts      map[string]string
}

func newFakeTV() *fakeTV {
	return &fakeTV{
		powerState: "On",
		volume:     Volume{Current: 15, Min: 0, Max: 60},
		notify:     "http",
		posts:      make(map[string]string),
	}
}

func (f *fakeTV) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /6/system", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		json.NewEncoder(w).Encode(System{Name: "Living Room TV", NotifyChange: f.notify})
	})
	mux.HandleFunc("GET /6/powerstate", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]string{"powerstate": f.powerState})
	})
	mux.HandleFunc("GET /6/audio/volume", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.powerState != "On" {
			http.Error(w, "standby", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(f.volume)
	})
	mux.HandleFunc("POST /6/", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		path := strings.TrimPrefix(r.URL.Path, "/6/")

		f.mu.Lock()
		f.posts[path] = string(body)
		f.mu.Unlock()

		if path == "notifychange" {
			w.Write([]byte(`{"powerstate":{"powerstate":"Standby"}}`))
		}
	})
	return mux
}

func (f *fakeTV) Post(path string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.posts[path]
}

func newTestClient(t *testing.T, tv *fakeTV) *Client {
	t.Helper()
	srv := httptest.NewServer(tv.handler())
	t.Cleanup(srv.Close)

	c, err := NewClient(ClientConfig{BaseURL: srv.URL + "/6", APIVersion: 6, HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c
}

func TestClientUpdate(t *testing.T) {
	c := newTestClient(t, newFakeTV())

	if err := c.Update(context.Background()); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if !c.On() || c.PowerState() != "On" || !c.NotifyChangeSupported() {
		t.Errorf("On=%v PowerState=%q Notify=%v", c.On(), c.PowerState(), c.NotifyChangeSupported())
	}
	if v := c.Volume(); v == nil || v.Current != 15 || v.Max != 60 {
		t.Errorf("Volume() = %+v", v)
	}
	if s := c.System(); s == nil || s.Name != "Living Room TV" {
		t.Errorf("System() = %+v", s)
	}
}

func TestClientUpdateStandbyWithoutVolume(t *testing.T) {
	tv := newFakeTV()
	tv.powerState = "Standby"
	c := newTestClient(t, tv)

	if err := c.Update(context.Background()); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if c.PowerState() != "Standby" || c.Volume() != nil {
		t.Errorf("PowerState=%q Volume=%v", c.PowerState(), c.Volume())
	}
}

func TestClientUpdateConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewClient(ClientConfig{BaseURL: url + "/6", RequestTimeout: time.Second})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if err := c.Update(context.Background()); !errors.Is(err, ErrConnectionFailure) {
		t.Errorf("Update() error = %v, want ErrConnectionFailure", err)
	}
	if c.On() {
		t.Error("On() = true after connection failure")
	}
}

func TestClientNotifyChange(t *testing.T) {
	tv := newFakeTV()
	c := newTestClient(t, tv)
	ctx := context.Background()

	if err := c.Update(ctx); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	changed, err := c.NotifyChange(ctx, time.Second)
	if err != nil {
		t.Fatalf("NotifyChange() error = %v", err)
	}
	if !changed || c.PowerState() != "Standby" {
		t.Errorf("changed=%v PowerState=%q", changed, c.PowerState())
	}
	if !strings.Contains(tv.Post("notifychange"), `"notification"`) {
		t.Errorf("notifychange body = %s", tv.Post("notifychange"))
	}
}

func TestClientSetVolumeScalesToRange(t *testing.T) {
	tv := newFakeTV()
	c := newTestClient(t, tv)
	ctx := context.Background()

	level := 0.5
	if err := c.SetVolume(ctx, &level, nil); err == nil {
		t.Fatal("SetVolume() before Update: error = nil")
	}
	if err := c.Update(ctx); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if err := c.SetVolume(ctx, &level, nil); err != nil {
		t.Fatalf("SetVolume() error = %v", err)
	}

	var sent struct {
		Current int  `json:"current"`
		Muted   bool `json:"muted"`
	}
	if err := json.Unmarshal([]byte(tv.Post("audio/volume")), &sent); err != nil {
		t.Fatalf("decoding volume body: %v", err)
	}
	if sent.Current != 30 || sent.Muted {
		t.Errorf("sent volume = %+v, want current 30", sent)
	}
}

func TestClientSetPowerStateValidates(t *testing.T) {
	c := newTestClient(t, newFakeTV())

	if err := c.SetPowerState(context.Background(), "Off"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("SetPowerState(Off) error = %v, want ErrInvalidArgument", err)
	}
	if err := c.SetPowerState(context.Background(), "Standby"); err != nil {
		t.Errorf("SetPowerState(Standby) error = %v", err)
	}
}

func TestDigestAuth(t *testing.T) {
	tests := []struct {
		name      string
		challenge string
		wantQOP   string
	}{
		{"qop list", `Digest realm="XTV", nonce="abc123", qop="auth,auth-int"`, "auth"},
		{"single qop", `Digest realm="XTV", nonce="abc123", qop="auth"`, "auth"},
		{"no qop", `Digest realm="XTV", nonce="abc123"`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chal, err := digest.ParseChallenge(tt.challenge)
			if err != nil {
				t.Fatalf("ParseChallenge() error = %v", err)
			}

			var (
				mu       sync.Mutex
				attempts int
				gotQOP   string
				gotBody  string
			)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				mu.Lock()
				defer mu.Unlock()
				attempts++

				cred, err := digest.ParseCredentials(r.Header.Get("Authorization"))
				if err != nil {
					w.Header().Set("WWW-Authenticate", tt.challenge)
					w.WriteHeader(http.StatusUnauthorized)
					return
				}
				want, err := digest.Digest(chal, digest.Options{
					Method:   r.Method,
					URI:      r.URL.RequestURI(),
					Username: "user",
					Password: "pass",
					Cnonce:   cred.Cnonce,
					Count:    cred.Nc,
				})
				if err != nil || cred.Response != want.Response {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				gotQOP = cred.QOP
				body, _ := io.ReadAll(r.Body)
				gotBody = string(body)
				w.Write([]byte(`{}`))
			}))
			defer srv.Close()

			c, err := NewClient(ClientConfig{BaseURL: srv.URL + "/6", APIVersion: 6, Username: "user", Password: "pass"})
			if err != nil {
				t.Fatalf("NewClient() error = %v", err)
			}
			if err := c.SetPowerState(context.Background(), "Standby"); err != nil {
				t.Fatalf("SetPowerState() error = %v", err)
			}

			mu.Lock()
			defer mu.Unlock()
			if attempts != 2 {
				t.Errorf("attempts = %d, want 2 (challenge then auth)", attempts)
			}
			if gotQOP != tt.wantQOP {
				t.Errorf("qop = %q, want %q", gotQOP, tt.wantQOP)
			}
			if !strings.Contains(gotBody, `"Standby"`) {
				t.Errorf("body = %q, want the request body replayed", gotBody)
			}
		})
	}
}

func TestNewClientDerivesURL(t *testing.T) {
	c, err := NewClient(ClientConfig{Host: "192.168.1.40", APIVersion: 6})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if c.base != "https://192.168.1.40:1926/6" {
		t.Errorf("base = %q", c.base)
	}

	c, err = NewClient(ClientConfig{Host: "192.168.1.40"})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if c.base != "http://192.168.1.40:1925/1" {
		t.Errorf("base = %q", c.base)
	}

	if _, err := NewClient(ClientConfig{}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("NewClient() without host error = %v", err)
	}
}
