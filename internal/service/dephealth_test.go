// dephealth_test.go — unit-тесты имён зависимостей удалённых rcd.
package service

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNormalizePeerDepName(t *testing.T) {
	long := strings.Repeat("a", 62) + "-b"
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"простое имя", "rcd-east", "rcd-east"},
		{"верхний регистр", "RCD-East", "rcd-east"},
		{"точки домена", "rcd.example.com", "rcd-example-com"},
		{"серии спецсимволов", "rcd__::__one", "rcd-one"},
		{"дефисы по краям", "--rcd--", "rcd"},
		{"начинается с цифры", "10-0-0-5-8050", "peer-10-0-0-5-8050"},
		{"пустая строка", "", "unknown-peer"},
		{"только спецсимволы", "%%%", "unknown-peer"},
		{"кириллица", "узел-2", "peer-2"},
		{"обрезка с хвостовым дефисом", long, strings.Repeat("a", 62)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizePeerDepName(tt.input)
			if got != tt.expected {
				t.Errorf("normalizePeerDepName(%q) = %q, ожидается %q", tt.input, got, tt.expected)
			}
			if len(got) > maxDepNameLen {
				t.Errorf("длина %d больше %d", len(got), maxDepNameLen)
			}
		})
	}
}

func TestPeerDepName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"http://rcd-b.local:8051", "rcd-b-local-8051"},
		{"https://Participant.Example.com", "participant-example-com"},
		{"http://127.0.0.1:8050/", "peer-127-0-0-1-8050"},
	}
	for _, tt := range tests {
		got, err := peerDepName(tt.input)
		if err != nil {
			t.Fatalf("peerDepName(%q) ошибка: %v", tt.input, err)
		}
		if got != tt.expected {
			t.Errorf("peerDepName(%q) = %q, ожидается %q", tt.input, got, tt.expected)
		}
	}

	for _, bad := range []string{"", "rcd-b:8051", "://x"} {
		if _, err := peerDepName(bad); !errors.Is(err, ErrValidation) {
			t.Errorf("peerDepName(%q): ожидалась ErrValidation, получено: %v", bad, err)
		}
	}
}

func TestPeerDependencies(t *testing.T) {
	opts, err := peerDependencies([]string{
		"http://rcd-b.local:8051",
		"http://RCD-B.local:8051/",
		"https://rcd-c.local",
	}, time.Second)
	if err != nil {
		t.Fatalf("peerDependencies ошибка: %v", err)
	}
	if len(opts) != 2 {
		t.Errorf("ожидалось 2 зависимости после схлопывания повторов, получено %d", len(opts))
	}

	if _, err := NewDephealthService(DephealthConfig{
		ServiceID: "rcd",
		Group:     "test",
		Peers:     []string{"http://ok.local", "not a url"},
	}, testLogger()); !errors.Is(err, ErrValidation) {
		t.Errorf("ожидалась ErrValidation, получено: %v", err)
	}
}
