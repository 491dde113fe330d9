package av

import (
	"context"
	"fmt"
	"math"
)

// Execute runs a named command against a device. Parameter errors wrap
// ErrInvalidParameters and unknown names wrap ErrInvalidCommand; device
// errors are returned as is.
func Execute(ctx context.Context, dev Device, command string, params map[string]any) error {
	switch command {
	case CommandOn:
		return dev.TurnOn(ctx)
	case CommandOff:
		return dev.TurnOff(ctx)
	case CommandMute:
		muted, err := boolParam(params, "muted")
		if err != nil {
			return err
		}
		return dev.SetMute(ctx, muted)
	case CommandVolume:
		level, err := volumeLevel(params)
		if err != nil {
			return err
		}
		return dev.SetVolume(ctx, level)
	case CommandSource:
		src, ok := params["source"].(string)
		if !ok || src == "" {
			return fmt.Errorf("%w: source must be a non-empty string", ErrInvalidParameters)
		}
		return dev.SelectSource(ctx, src)
	case CommandRefresh:
		return dev.Refresh(ctx)
	default:
		return fmt.Errorf("%w: %q", ErrInvalidCommand, command)
	}
}

func boolParam(params map[string]any, key string) (bool, error) {
	v, ok := params[key]
	if !ok {
		return false, fmt.Errorf("%w: missing %s", ErrInvalidParameters, key)
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s must be a boolean", ErrInvalidParameters, key)
	}
	return b, nil
}

// volumeLevel accepts {"level": 0..1} or {"percent": 0..100}.
func volumeLevel(params map[string]any) (float64, error) {
	if v, ok := params["level"]; ok {
		level, ok := toFloat64(v)
		if !ok || level < 0 || level > 1 {
			return 0, fmt.Errorf("%w: level must be a number between 0 and 1", ErrInvalidParameters)
		}
		return level, nil
	}
	if v, ok := params["percent"]; ok {
		pct, ok := toFloat64(v)
		if !ok || pct < 0 || pct > 100 {
			return 0, fmt.Errorf("%w: percent must be a number between 0 and 100", ErrInvalidParameters)
		}
		return pct / 100, nil
	}
	return 0, fmt.Errorf("%w: missing level or percent", ErrInvalidParameters)
}

// toFloat64 converts JSON-decoded and Go numeric values.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n)
	case float32:
		return float64(n), !math.IsNaN(float64(n))
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
