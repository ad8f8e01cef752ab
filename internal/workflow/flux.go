package workflow

import (
	"context"

	"forge-router/internal/cache"
)

// FluxPayload is a Flux workflow request. The original source left this
// variant unimplemented (a todo!() in the Rust translator); this repo
// supplements it with a working translation sharing the same asset-fetch
// and graph-wiring path as SD1.5/SDXL, with Flux's node classes.
type FluxPayload struct {
	common
}

func (p FluxPayload) Kind() string { return "flux" }

func (p FluxPayload) Translate(ctx context.Context, c *cache.Cache) (Graph, string, string, error) {
	f := newAssetFetcher(c)
	checkpointName, loraNames, controlnetNames, inputImageName, err := p.resolveCommonAssets(ctx, f)
	if err != nil {
		return nil, "", "", err
	}
	if err := f.await(ctx); err != nil {
		return nil, "", "", err
	}
	graph, samplerID, outputID := buildGraph(fluxProfile, p.common, checkpointName, loraNames, controlnetNames, inputImageName)
	return graph, samplerID, outputID, nil
}
