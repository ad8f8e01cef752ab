package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"forge-router/internal/cache"
)

// Payload is the discriminated WorkflowPayload variant {SD15, SDXL, Flux}.
// Translate is a deterministic pure function over its fields plus the
// asset fetcher: it resolves every referenced asset, then builds the
// backend graph from the resolved names.
type Payload interface {
	Kind() string
	// CacheMap is reserved for future node-affinity hints; currently empty.
	CacheMap() map[string]string
	Translate(ctx context.Context, c *cache.Cache) (graph Graph, samplerNodeID, outputNodeID string, err error)
}

// WeightedAsset is an asset applied with a strength, used for LoRAs and
// ControlNets.
type WeightedAsset struct {
	Asset  Asset   `json:"asset"`
	Weight float64 `json:"weight"`
}

type common struct {
	Checkpoint     Asset           `json:"checkpoint"`
	LoRAs          []WeightedAsset `json:"loras,omitempty"`
	ControlNets    []WeightedAsset `json:"controlnets,omitempty"`
	InputImage     *Asset          `json:"input_image,omitempty"`
	Prompt         string          `json:"prompt"`
	NegativePrompt string          `json:"negative_prompt,omitempty"`
	Steps          int             `json:"steps"`
	CFGScale       float64         `json:"cfg_scale"`
	Width          int             `json:"width"`
	Height         int             `json:"height"`
	Seed           int64           `json:"seed"`
}

func (c common) CacheMap() map[string]string { return nil }

func (c common) resolveCommonAssets(ctx context.Context, f *assetFetcher) (checkpointName string, loraNames []string, controlnetNames []string, inputImageName string, err error) {
	checkpointName, err = f.resolve(c.Checkpoint, "models/checkpoints")
	if err != nil {
		return
	}
	for _, l := range c.LoRAs {
		var name string
		name, err = f.resolve(l.Asset, "models/loras")
		if err != nil {
			return
		}
		loraNames = append(loraNames, name)
	}
	for _, cn := range c.ControlNets {
		var name string
		name, err = f.resolve(cn.Asset, "models/controlnet")
		if err != nil {
			return
		}
		controlnetNames = append(controlnetNames, name)
	}
	if c.InputImage != nil {
		inputImageName, err = f.resolve(*c.InputImage, "input")
		if err != nil {
			return
		}
	}
	return
}

// envelope peeks the discriminator field of a raw workflow payload.
type envelope struct {
	Type string `json:"type"`
}

// ParsePayload decodes data into the concrete Payload variant its "type"
// field names.
func ParsePayload(data []byte) (Payload, error) {
	var e envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	switch e.Type {
	case "sd15":
		var p SD15Payload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode sd15 payload: %w", err)
		}
		return p, nil
	case "sdxl":
		var p SDXLPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode sdxl payload: %w", err)
		}
		return p, nil
	case "flux":
		var p FluxPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode flux payload: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown workflow payload type %q", e.Type)
	}
}
