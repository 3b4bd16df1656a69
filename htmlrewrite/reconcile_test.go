package htmlrewrite

import (
	"testing"

	"github.com/tplforge/soycore/ast"
)

func TestReconcile(t *testing.T) {
	tests := []struct {
		name    string
		states  []State
		want    State
		wantOK  bool
		notG    bool
		exactly bool
	}{
		{"equal", []State{Pcdata, Pcdata}, Pcdata, true, false, true},
		{"all in tag", []State{BeforeAttributeName, AfterTagNameOrAttribute}, AfterTagNameOrAttribute, true, false, true},
		{"bav joins forward", []State{BeforeAttributeValue, AfterTagNameOrAttribute}, AfterTagNameOrAttribute, true, false, true},
		{"bav joins unquoted", []State{UnquotedAttrValue, BeforeAttributeValue}, UnquotedAttrValue, true, false, true},
		{"bav not guaranteed", []State{BeforeAttributeValue, BeforeAttributeName}, BeforeAttributeName, true, true, false},
		{"pcdata vs tag", []State{Pcdata, AfterTagNameOrAttribute}, Pcdata, false, false, true},
		{"quoted vs quoted", []State{SingleQuotedAttrValue, DoubleQuotedAttrValue}, SingleQuotedAttrValue, false, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, notG := reconcile(tt.states, tt.exactly)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("state = %v, want %v", got, tt.want)
			}
			if notG != tt.notG {
				t.Errorf("notGuaranteed = %v, want %v", notG, tt.notG)
			}
		})
	}
}

func TestInitialState(t *testing.T) {
	tests := []struct {
		kind string
		want State
	}{
		{"html", Pcdata},
		{"attributes", BeforeAttributeName},
		{"text", None},
		{"css", None},
		{"js", None},
		{"uri", None},
		{"trustedResourceUri", None},
	}
	for _, tt := range tests {
		if got := initialState(ast.ContentKind(tt.kind)); got != tt.want {
			t.Errorf("initialState(%s) = %v, want %v", tt.kind, got, tt.want)
		}
	}
}
