package cli

import (
	"reflect"
	"testing"

	"github.com/dl-alexandre/gdmirror/internal/config"
)

func TestSetConfigValue(t *testing.T) {
	tests := []struct {
		key, value string
		check      func(*config.Config) bool
		wantErr    bool
	}{
		{key: "mirrorConcurrency", value: "8", check: func(c *config.Config) bool { return c.MirrorConcurrency == 8 }},
		{key: "MIRRORPOLICY", value: "Reuse", check: func(c *config.Config) bool { return c.MirrorPolicy == "reuse" }},
		{key: "defaultExcludes", value: "yes", check: func(c *config.Config) bool { return c.DefaultExcludes }},
		{key: "excludePatterns", value: "*.log, build/,,", check: func(c *config.Config) bool {
			return reflect.DeepEqual(c.ExcludePatterns, []string{"*.log", "build/"})
		}},
		{key: "requestTimeout", value: "0", check: func(c *config.Config) bool { return c.RequestTimeout == 0 }},
		{key: "mirrorConcurrency", value: "many", wantErr: true},
		{key: "mirrorConcurrency", value: "64", wantErr: true},
		{key: "mirrorPolicy", value: "merge", wantErr: true},
		{key: "defaultOutputFormat", value: "xml", wantErr: true},
		{key: "cacheTTL", value: "5", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			cfg := config.DefaultConfig()
			err := setConfigValue(cfg, tt.key, tt.value)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.check(cfg) {
				t.Errorf("value not applied: %+v", cfg)
			}
		})
	}
}

func TestConfigValuesCoversFields(t *testing.T) {
	values := configValues(config.DefaultConfig())
	if got, want := len(values), reflect.TypeOf(config.Config{}).NumField(); got != want {
		t.Errorf("configValues has %d keys, Config has %d fields", got, want)
	}
	if values["mirrorPolicy"] != "create" {
		t.Errorf("mirrorPolicy = %v", values["mirrorPolicy"])
	}
}
