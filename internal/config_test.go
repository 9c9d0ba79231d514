package rtsched_internal

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type LoadConfigTestCase struct {
	Name       string
	Data       string
	WantConfig *RealtimeSchedConfig
	WantErr    bool
}

func testLoadConfig(t *testing.T, tc *LoadConfigTestCase) {
	gotConfig, err := LoadConfig("", []byte(strings.ReplaceAll(tc.Data, "\t", "  ")))
	if tc.WantErr && err == nil {
		t.Fatalf("expected an error, got none")
	}
	if !tc.WantErr && err != nil {
		t.Fatal(err)
	}
	if tc.WantErr {
		return
	}

	if diff := cmp.Diff(tc.WantConfig, gotConfig); diff != "" {
		t.Fatalf("RealtimeSchedConfig mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfig(t *testing.T) {
	ignoredData := `
		ignore:
			foo: bar
	`

	cfg1 := DefaultRealtimeSchedConfig()
	cfg1.Instance = "inst1"
	cfg1.ShutdownMaxWait = 7 * time.Second
	data1 := `
		rtsched_config:
			instance: inst1
			shutdown_max_wait: 7s
	`

	cfg2 := DefaultRealtimeSchedConfig()
	cfg2.CoordinatorConfig.NumCores = 5
	data2 := `
		rtsched_config:
			coordinator_config:
				num_cores: 5
	`

	cfg3 := DefaultRealtimeSchedConfig()
	cfg3.LoggerConfig.Level = "debug"
	data3 := `
		rtsched_config:
			log_config:
				level: debug
	`

	cfg4 := DefaultRealtimeSchedConfig()
	cfg4.InternalMetricsConfig.Interval = 13 * time.Second
	data4 := `
		rtsched_config:
			internal_metrics_config:
				interval: 13s
	`

	for _, tc := range []*LoadConfigTestCase{
		{
			Name:       "default",
			WantConfig: DefaultRealtimeSchedConfig(),
		},
		{
			Name: "empty_section",
			Data: `
				rtsched_config:
			`,
			WantConfig: DefaultRealtimeSchedConfig(),
		},
		{
			Name:       "instance_and_shutdown_max_wait",
			Data:       data1,
			WantConfig: cfg1,
		},
		{
			Name:       "coordinator_config",
			Data:       data2,
			WantConfig: cfg2,
		},
		{
			Name:       "log_config",
			Data:       data3,
			WantConfig: cfg3,
		},
		{
			Name:       "internal_metrics_config",
			Data:       data4,
			WantConfig: cfg4,
		},
		{
			Name:       "unrelated_section_ignored",
			Data:       data1 + ignoredData,
			WantConfig: cfg1,
		},
		{
			Name: "invalid_root_node",
			Data: `
				- this
				- is
				- a
				- list
			`,
			WantErr: true,
		},
	} {
		t.Run(tc.Name, func(t *testing.T) { testLoadConfig(t, tc) })
	}
}
