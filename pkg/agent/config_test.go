package agent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/writeflow-dev/writeflow/pkg/plan"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "writeflow.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig_DefaultsAndExpansion(t *testing.T) {
	t.Setenv("WF_TEST_KEY", "sk-from-env")
	path := writeConfig(t, `
provider: anthropic
api_key: ${WF_TEST_KEY}
models:
  main: claude-sonnet-4-5
  quick: claude-haiku-4-5
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.APIKey != "sk-from-env" {
		t.Errorf("api_key = %q", cfg.APIKey)
	}
	if cfg.Queue.Capacity != 10000 || cfg.Queue.HighWater != 8000 {
		t.Errorf("queue = %+v", cfg.Queue)
	}
	if cfg.Compression.Trigger != 0.85 || cfg.Compression.Target != 0.6 || cfg.Compression.KeepTurns != 3 {
		t.Errorf("compression = %+v", cfg.Compression)
	}
	if cfg.MaxRounds != 10 || cfg.Dispatcher.PoolSize != 10 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Models.ForRole("quick") != "claude-haiku-4-5" {
		t.Errorf("quick = %q", cfg.Models.ForRole("quick"))
	}
	if cfg.Models.ForRole("task") != "claude-sonnet-4-5" {
		t.Errorf("task fallback = %q", cfg.Models.ForRole("task"))
	}
}

func TestLoadConfig_Validation(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"unknown provider", "provider: grok\nmodels: {main: m}\n", "unknown provider"},
		{"missing main", "provider: openai\n", "models.main"},
		{
			"target above trigger",
			"provider: openai\nmodels: {main: m}\ncompression: {trigger: 0.5, target: 0.9}\n",
			"compression.target",
		},
		{
			"high water above capacity",
			"provider: openai\nmodels: {main: m}\nqueue: {capacity: 100, high_water: 200}\n",
			"queue.high_water",
		},
		{
			"bad thinking level",
			"provider: openai\nmodels: {main: m}\nthinking_level: extreme\n",
			"thinking_level",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("err = %v, want %q", err, tc.want)
			}
		})
	}
}

func TestConfig_ModePolicies(t *testing.T) {
	cfg := DefaultConfig()
	policies := cfg.ModePolicies()

	def, ok := policies[plan.ModeDefault]
	if !ok {
		t.Fatal("no default-mode policy")
	}
	found := false
	for _, name := range def.AlwaysAllow {
		if name == "read" {
			found = true
		}
	}
	if !found {
		t.Errorf("default allow list = %v", def.AlwaysAllow)
	}

	pm := policies[plan.ModePlan]
	exits := false
	for _, name := range pm.AlwaysAllow {
		if name == plan.ExitPlanModeTool {
			exits = true
		}
	}
	if !exits {
		t.Errorf("plan allow list = %v", pm.AlwaysAllow)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error")
	}
}
