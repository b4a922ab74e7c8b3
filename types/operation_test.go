package types

import (
	"reflect"
	"testing"
)

func TestOperation_InstanceNames(t *testing.T) {
	tests := []struct {
		name      string
		resources map[string][]string
		want      []string
	}{
		{
			name:      "bare names",
			resources: map[string][]string{"instances": {"foo", "bar"}},
			want:      []string{"foo", "bar"},
		},
		{
			name:      "api paths",
			resources: map[string][]string{"instances": {"/1.0/instances/foo", "/1.0/instances/bar"}},
			want:      []string{"foo", "bar"},
		},
		{
			name:      "duplicates dropped",
			resources: map[string][]string{"instances": {"foo", "/1.0/instances/foo"}},
			want:      []string{"foo"},
		},
		{
			name:      "other resource kinds ignored",
			resources: map[string][]string{"containers": {"foo"}},
			want:      nil,
		},
		{
			name:      "no resources",
			resources: nil,
			want:      nil,
		},
		{
			name:      "empty trailing segment skipped",
			resources: map[string][]string{"instances": {"/1.0/instances/", "bar"}},
			want:      []string{"bar"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := Operation{ID: "op-1", Resources: tt.resources}
			if got := op.InstanceNames(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("InstanceNames() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOperationStatus_InFlight(t *testing.T) {
	tests := []struct {
		status   OperationStatus
		inFlight bool
		settled  bool
	}{
		{OperationPending, true, false},
		{OperationRunning, true, false},
		{OperationSuccess, false, true},
		{OperationFailure, false, true},
		{OperationCancelled, false, true},
		{OperationStatus("bogus"), false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.InFlight(); got != tt.inFlight {
				t.Errorf("InFlight() = %v, want %v", got, tt.inFlight)
			}
			if got := tt.status.Settled(); got != tt.settled {
				t.Errorf("Settled() = %v, want %v", got, tt.settled)
			}
		})
	}
}

func TestInstance_Clone(t *testing.T) {
	orig := Instance{
		Name:   "foo",
		Status: InstanceRunning,
		Config: map[string]string{"limits.cpu": "2"},
		Devices: map[string]map[string]string{
			"root": {"pool": "default"},
		},
	}

	clone := orig.Clone()
	clone.Config["limits.cpu"] = "4"
	clone.Devices["root"]["pool"] = "fast"

	if orig.Config["limits.cpu"] != "2" {
		t.Errorf("clone shares config map with original")
	}
	if orig.Devices["root"]["pool"] != "default" {
		t.Errorf("clone shares devices map with original")
	}
}
