package encode

import (
	"context"
	"runtime"

	"github.com/facebookincubator/go-belt/tool/logger"
)

// Plan is one encoder the session may try.
type Plan struct {
	Label    string
	Codec    string
	Hardware bool
	Options  map[string]string
}

func (p Plan) apply(cfg Config) Config {
	out := cfg.clone()
	out.Codec = p.Codec
	out.Candidates = nil
	if len(p.Options) > 0 {
		if out.Options == nil {
			out.Options = make(map[string]string, len(p.Options))
		}
		for k, v := range p.Options {
			out.Options[k] = v
		}
	}
	return out
}

// HardwareCandidates lists the hardware encoders worth probing on this OS.
// Only encoders that accept system-memory yuv420p frames are listed.
func HardwareCandidates() []Plan {
	switch runtime.GOOS {
	case "darwin":
		return []Plan{
			hardwarePlan("h264_videotoolbox", nil),
		}
	case "windows":
		return []Plan{
			hardwarePlan("h264_nvenc", map[string]string{"preset": "p1", "tune": "ll"}),
			hardwarePlan("h264_amf", map[string]string{"usage": "lowlatency"}),
		}
	default:
		return []Plan{
			hardwarePlan("h264_nvenc", map[string]string{"preset": "p1", "tune": "ll"}),
		}
	}
}

func hardwarePlan(codec string, options map[string]string) Plan {
	return Plan{
		Label:    codec,
		Codec:    codec,
		Hardware: true,
		Options:  options,
	}
}

// openCodec walks cfg.Candidates and falls back to cfg.Codec. The returned
// config is the one the codec was actually opened with.
func openCodec(ctx context.Context, backend Backend, cfg Config) (Codec, Config, error) {
	software := Plan{Label: cfg.Codec, Codec: cfg.Codec}

	if len(cfg.Candidates) == 0 {
		codec, err := backend.Open(ctx, software.apply(cfg))
		if err != nil {
			return nil, cfg, err
		}
		reportEncoderSelection(ctx, software, "no_hardware_candidates")
		return codec, software.apply(cfg), nil
	}

	for _, candidate := range cfg.Candidates {
		try := candidate.apply(cfg)
		codec, err := backend.Open(ctx, try)
		if err == nil {
			reportEncoderSelection(ctx, candidate, "")
			return codec, try, nil
		}
		logger.Debugf(ctx, "encoder probe failed encoder=%q err=%v", candidate.Label, err)
	}

	fallback := software.apply(cfg)
	codec, err := backend.Open(ctx, fallback)
	if err != nil {
		return nil, cfg, err
	}
	reportEncoderSelection(ctx, software, "all_hardware_probes_failed")
	return codec, fallback, nil
}

func reportEncoderSelection(ctx context.Context, plan Plan, reason string) {
	mode := "software"
	if plan.Hardware {
		mode = "hardware"
	}
	if reason == "" {
		logger.Infof(ctx, "video encoder: %s (%s)", plan.Label, mode)
		return
	}
	logger.Infof(ctx, "video encoder: %s (%s) reason=%s", plan.Label, mode, reason)
}
