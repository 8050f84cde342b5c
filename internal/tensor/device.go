package tensor

import (
	"fmt"
	"strings"
)

// Device places materialized tensors. Accelerator backends implement Place
// by uploading the payload; the CPU device keeps host memory as is.
type Device interface {
	Name() string
	Place(t *Tensor) (*Tensor, error)
}

type cpuDevice struct{}

func (cpuDevice) Name() string { return "cpu" }

func (cpuDevice) Place(t *Tensor) (*Tensor, error) {
	t.Device = "cpu"
	return t, nil
}

// CPU is the host device.
var CPU Device = cpuDevice{}

var devices = map[string]Device{"cpu": CPU}

// RegisterDevice makes d available to ParseDevice under d.Name().
// It is meant to be called from init functions.
func RegisterDevice(d Device) {
	devices[strings.ToLower(d.Name())] = d
}

// ParseDevice resolves a device name such as "cpu". An empty name is CPU.
func ParseDevice(name string) (Device, error) {
	if name == "" {
		return CPU, nil
	}
	d, ok := devices[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown device %q", name)
	}
	return d, nil
}
