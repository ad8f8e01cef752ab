package workflow

import (
	"context"

	"forge-router/internal/cache"
)

// SDXLPayload is a Stable Diffusion XL workflow request. It shares SD1.5's
// asset shape; only the graph's node classes (dual-resolution text
// encoding, advanced sampler) differ.
type SDXLPayload struct {
	common
}

func (p SDXLPayload) Kind() string { return "sdxl" }

func (p SDXLPayload) Translate(ctx context.Context, c *cache.Cache) (Graph, string, string, error) {
	f := newAssetFetcher(c)
	checkpointName, loraNames, controlnetNames, inputImageName, err := p.resolveCommonAssets(ctx, f)
	if err != nil {
		return nil, "", "", err
	}
	if err := f.await(ctx); err != nil {
		return nil, "", "", err
	}
	graph, samplerID, outputID := buildGraph(sdxlProfile, p.common, checkpointName, loraNames, controlnetNames, inputImageName)
	return graph, samplerID, outputID, nil
}
