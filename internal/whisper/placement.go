package whisper

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

type Device string

const (
	DeviceAuto Device = "auto"
	DeviceCPU  Device = "cpu"
	DeviceCUDA Device = "cuda"
)

type Precision string

const (
	PrecisionFloat16 Precision = "float16"
	PrecisionFloat32 Precision = "float32"
	PrecisionInt8    Precision = "int8"
)

func ParseDevice(s string) (Device, error) {
	switch d := Device(strings.ToLower(strings.TrimSpace(s))); d {
	case "":
		return DeviceAuto, nil
	case DeviceAuto, DeviceCPU, DeviceCUDA:
		return d, nil
	default:
		return "", fmt.Errorf("unknown device %q (want auto, cpu or cuda)", s)
	}
}

func ParsePrecision(s string) (Precision, error) {
	switch p := Precision(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return "", nil
	case PrecisionFloat16, PrecisionFloat32, PrecisionInt8:
		return p, nil
	default:
		return "", fmt.Errorf("unknown compute type %q (want float16, float32 or int8)", s)
	}
}

// Placement is where and at which precision the model runs. Resolved once at startup.
type Placement struct {
	Device    Device
	Precision Precision
	Threads   int
	// Requested is the configured device before resolution.
	Requested Device
}

// Fallback reports whether an explicit accelerator request could not be honored.
func (p Placement) Fallback() bool {
	return p.Requested == DeviceCUDA && p.Device != DeviceCUDA
}

// AcceleratorDetector reports whether a CUDA device is usable.
type AcceleratorDetector func() bool

// DetectCUDA looks for the NVIDIA driver tooling.
func DetectCUDA() bool {
	_, err := exec.LookPath("nvidia-smi")
	return err == nil
}

func ResolvePlacement(device Device, precision Precision, detect AcceleratorDetector) Placement {
	if detect == nil {
		detect = DetectCUDA
	}
	if device == "" {
		device = DeviceAuto
	}

	resolved := DeviceCPU
	if device != DeviceCPU && detect() {
		resolved = DeviceCUDA
	}

	if precision == "" {
		precision = PrecisionFloat32
		if resolved == DeviceCUDA {
			precision = PrecisionFloat16
		}
	}

	return Placement{
		Device:    resolved,
		Precision: precision,
		Threads:   runtime.NumCPU(),
		Requested: device,
	}
}
