package workflow

import (
	"context"

	"forge-router/internal/cache"
)

// SD15Payload is a Stable Diffusion 1.5 workflow request.
type SD15Payload struct {
	common
}

func (p SD15Payload) Kind() string { return "sd15" }

func (p SD15Payload) Translate(ctx context.Context, c *cache.Cache) (Graph, string, string, error) {
	f := newAssetFetcher(c)
	checkpointName, loraNames, controlnetNames, inputImageName, err := p.resolveCommonAssets(ctx, f)
	if err != nil {
		return nil, "", "", err
	}
	if err := f.await(ctx); err != nil {
		return nil, "", "", err
	}
	graph, samplerID, outputID := buildGraph(sd15Profile, p.common, checkpointName, loraNames, controlnetNames, inputImageName)
	return graph, samplerID, outputID, nil
}
