// Package device binds capture and playback to sound hardware through
// miniaudio (malgo).
package device

import (
	"fmt"
	"strings"

	"github.com/gen2brain/malgo"
	"go.uber.org/zap"
)

// Info describes an input or output device.
type Info struct {
	Name      string `json:"name"`
	IsDefault bool   `json:"isDefault"`
}

// newContext initializes a miniaudio context that logs through log.
func newContext(log *zap.SugaredLogger) (*malgo.AllocatedContext, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		log.Debugf("malgo: %s", strings.TrimSpace(message))
	})
	if err != nil {
		return nil, fmt.Errorf("malgo init: %w", err)
	}
	return ctx, nil
}

func freeContext(ctx *malgo.AllocatedContext) error {
	err := ctx.Uninit()
	ctx.Free()
	return err
}

// List returns the devices of the given kind (malgo.Capture or
// malgo.Playback).
func List(kind malgo.DeviceType, log *zap.SugaredLogger) ([]Info, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	ctx, err := newContext(log)
	if err != nil {
		return nil, err
	}
	defer freeContext(ctx)

	list, err := ctx.Devices(kind)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	out := make([]Info, 0, len(list))
	for i := range list {
		name := list[i].Name()
		if name == "" {
			name = "Unknown device"
		}
		out = append(out, Info{Name: name, IsDefault: list[i].IsDefault != 0})
	}
	return out, nil
}

// findDevice returns the index of the device whose name matches want,
// case-insensitively, or -1.
func findDevice(names []string, want string) int {
	want = strings.TrimSpace(want)
	if want == "" {
		return -1
	}
	for i, n := range names {
		if strings.EqualFold(n, want) {
			return i
		}
	}
	return -1
}

// selectDevice points cfg at the named device. An empty name keeps the
// system default.
func selectDevice(ctx *malgo.AllocatedContext, kind malgo.DeviceType, name string, cfg *malgo.DeviceConfig) error {
	if name == "" {
		return nil
	}
	list, err := ctx.Devices(kind)
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}
	names := make([]string, len(list))
	for i := range list {
		names[i] = list[i].Name()
	}
	i := findDevice(names, name)
	if i < 0 {
		return fmt.Errorf("device %q not found", name)
	}
	id := list[i].ID.Pointer()
	if kind == malgo.Capture {
		cfg.Capture.DeviceID = id
	} else {
		cfg.Playback.DeviceID = id
	}
	return nil
}
