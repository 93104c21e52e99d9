package policy

import (
	"net/http"
	"testing"

	"github.com/langlearner/offline-cache/internal/cache"
)

func TestBuiltinSelectsByPath(t *testing.T) {
	reg := Builtin("/audio/")

	testCases := []struct {
		path string
		want string
	}{
		{"/audio/scene1.mp3", KeyAudio},
		{"/lessons/audio/intro.mp3", KeyAudio},
		{"/audio", KeyDefault},
		{"/scene1.html", KeyDefault},
		{"/", KeyDefault},
	}
	for _, tc := range testCases {
		meta, ok := reg.Select(tc.path)
		if !ok {
			t.Fatalf("expected a policy for %s", tc.path)
		}
		if meta.Key != tc.want {
			t.Fatalf("path %s: expected %s, got %s", tc.path, tc.want, meta.Key)
		}
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := New()
	if err := reg.Register(Metadata{Key: "a"}); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	if err := reg.Register(Metadata{Key: "A"}); err == nil {
		t.Fatalf("duplicate key should fail")
	}
	if err := reg.Register(Metadata{Key: "b"}); err == nil {
		t.Fatalf("second fallback policy should fail")
	}
	if err := reg.Register(Metadata{Key: " "}); err == nil {
		t.Fatalf("empty key should fail")
	}
}

func TestSelectWithoutFallback(t *testing.T) {
	reg := New()
	reg.MustRegister(Metadata{Key: "only", Match: func(p string) bool { return p == "/x" }})
	if _, ok := reg.Select("/y"); ok {
		t.Fatalf("expected no policy without fallback")
	}
	if meta, ok := reg.Select("/x"); !ok || meta.Key != "only" {
		t.Fatalf("expected only policy, got %+v %v", meta, ok)
	}
}

func TestShouldStoreRules(t *testing.T) {
	reg := Builtin("/audio/")
	audio, _ := reg.Select("/audio/a.mp3")
	def, _ := reg.Select("/scene1.html")

	testCases := []struct {
		name  string
		meta  Metadata
		resp  *cache.Response
		store bool
	}{
		{"audio 200", audio, &cache.Response{Status: http.StatusOK, Type: cache.TypeBasic}, true},
		{"audio 206", audio, &cache.Response{Status: http.StatusPartialContent, Type: cache.TypeBasic}, false},
		{"audio cors 200", audio, &cache.Response{Status: http.StatusOK, Type: cache.TypeCORS}, true},
		{"audio 404", audio, &cache.Response{Status: http.StatusNotFound, Type: cache.TypeBasic}, false},
		{"default basic 200", def, &cache.Response{Status: http.StatusOK, Type: cache.TypeBasic}, true},
		{"default basic 206", def, &cache.Response{Status: http.StatusPartialContent, Type: cache.TypeBasic}, false},
		{"default basic 204", def, &cache.Response{Status: http.StatusNoContent, Type: cache.TypeBasic}, false},
		{"default cors 200", def, &cache.Response{Status: http.StatusOK, Type: cache.TypeCORS}, false},
		{"nil", def, nil, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.meta.ShouldStore(tc.resp); got != tc.store {
				t.Fatalf("expected %v, got %v", tc.store, got)
			}
		})
	}
	if audio.Revalidates() || !def.Revalidates() {
		t.Fatalf("only default policy should revalidate")
	}
}

func TestListKeepsRegistrationOrder(t *testing.T) {
	list := Builtin("/audio/").List()
	if len(list) != 2 || list[0].Key != KeyAudio || list[1].Key != KeyDefault {
		t.Fatalf("unexpected order: %+v", list)
	}
}
