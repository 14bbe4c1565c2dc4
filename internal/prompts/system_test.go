package prompts

import (
	"strings"
	"testing"
	"time"
)

func TestAgentSystem(t *testing.T) {
	now := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	for name, role := range map[string]string{
		"grant-cards":      GrantCards(),
		"etg-writer":       ETGWriter(),
		"canexport-claims": CanExportClaims(),
		"bcafe-writer":     BCAFEWriter(),
	} {
		t.Run(name, func(t *testing.T) {
			got := AgentSystem(role, now)
			if !strings.HasPrefix(got, "You are the") {
				t.Errorf("prompt should start with the role: %q", got[:40])
			}
			if !strings.Contains(got, "load_company_context") {
				t.Error("prompt should include the tool rules")
			}
			if !strings.Contains(got, "Monday, March 9, 2026") {
				t.Error("prompt should include the date")
			}
		})
	}
}

func TestFileContextNote(t *testing.T) {
	tests := []struct {
		name               string
		file, src, company string
		want               []string
	}{
		{name: "full", file: "Budget.xlsx", src: "deal_files", company: "Acme", want: []string{`"Budget.xlsx"`, "for Acme", "via deal_files"}},
		{name: "file only", file: "notes.txt", want: []string{`"notes.txt"`, "that file"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FileContextNote(tt.file, tt.src, tt.company)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("FileContextNote() = %q, missing %q", got, w)
				}
			}
		})
	}
}
