package workflow

// profile names the backend node classes that differ between SD1.5, SDXL
// and Flux graphs; the wiring (which output feeds which input) is shared.
type profile struct {
	checkpointClass string
	textEncodeClass string
	samplerClass    string
	extraTextInputs func(width, height int) map[string]any
}

var sd15Profile = profile{
	checkpointClass: "CheckpointLoaderSimple",
	textEncodeClass: "CLIPTextEncode",
	samplerClass:    "KSampler",
}

var sdxlProfile = profile{
	checkpointClass: "CheckpointLoaderSimple",
	textEncodeClass: "CLIPTextEncodeSDXL",
	samplerClass:    "KSamplerAdvanced",
	extraTextInputs: func(width, height int) map[string]any {
		return map[string]any{
			"width": width, "height": height,
			"target_width": width, "target_height": height,
			"crop_w": 0, "crop_h": 0,
		}
	},
}

var fluxProfile = profile{
	checkpointClass: "UNETLoader",
	textEncodeClass: "CLIPTextEncodeFlux",
	samplerClass:    "KSamplerAdvanced",
}

// buildGraph wires the shared checkpoint → (lora chain) → text-encode →
// (controlnet chain) → sampler → decode → save pipeline, returning the
// graph plus the ids the executor must watch for progress and output.
func buildGraph(p profile, c common, checkpointName string, loraNames, controlnetNames []string, inputImageName string) (Graph, string, string) {
	g := make(Graph)
	gen := newNodeIDGen()

	checkpointNode := gen.Next()
	g[checkpointNode] = GraphNode{
		ClassType: p.checkpointClass,
		Inputs:    map[string]any{"ckpt_name": checkpointName},
	}

	modelRef := ref(checkpointNode, 0)
	clipRef := ref(checkpointNode, 1)
	vaeRef := ref(checkpointNode, 2)

	for i, loraName := range loraNames {
		node := gen.Next()
		g[node] = GraphNode{
			ClassType: "LoraLoader",
			Inputs: map[string]any{
				"lora_name":      loraName,
				"strength_model": c.LoRAs[i].Weight,
				"strength_clip":  c.LoRAs[i].Weight,
				"model":          modelRef,
				"clip":           clipRef,
			},
		}
		modelRef = ref(node, 0)
		clipRef = ref(node, 1)
	}

	posInputs := map[string]any{"text": c.Prompt, "clip": clipRef}
	negInputs := map[string]any{"text": c.NegativePrompt, "clip": clipRef}
	if p.extraTextInputs != nil {
		for k, v := range p.extraTextInputs(c.Width, c.Height) {
			posInputs[k] = v
			negInputs[k] = v
		}
	}

	posNode := gen.Next()
	g[posNode] = GraphNode{ClassType: p.textEncodeClass, Inputs: posInputs}
	negNode := gen.Next()
	g[negNode] = GraphNode{ClassType: p.textEncodeClass, Inputs: negInputs}

	positiveRef := ref(posNode, 0)
	for i, cnName := range controlnetNames {
		loaderNode := gen.Next()
		g[loaderNode] = GraphNode{
			ClassType: "ControlNetLoader",
			Inputs:    map[string]any{"control_net_name": cnName},
		}
		applyNode := gen.Next()
		applyInputs := map[string]any{
			"strength":   c.ControlNets[i].Weight,
			"conditioning": positiveRef,
			"control_net":  ref(loaderNode, 0),
		}
		if inputImageName != "" {
			applyInputs["image"] = inputImageName
		}
		g[applyNode] = GraphNode{ClassType: "ControlNetApply", Inputs: applyInputs}
		positiveRef = ref(applyNode, 0)
	}

	latentNode := gen.Next()
	g[latentNode] = GraphNode{
		ClassType: "EmptyLatentImage",
		Inputs:    map[string]any{"width": c.Width, "height": c.Height, "batch_size": 1},
	}

	samplerNode := gen.Next()
	g[samplerNode] = GraphNode{
		ClassType: p.samplerClass,
		Inputs: map[string]any{
			"seed": c.Seed, "steps": c.Steps, "cfg": c.CFGScale,
			"sampler_name": "euler", "scheduler": "normal", "denoise": 1.0,
			"model": modelRef, "positive": positiveRef, "negative": ref(negNode, 0),
			"latent_image": ref(latentNode, 0),
		},
	}

	decodeNode := gen.Next()
	g[decodeNode] = GraphNode{
		ClassType: "VAEDecode",
		Inputs:    map[string]any{"samples": ref(samplerNode, 0), "vae": vaeRef},
	}

	outputNode := gen.Next()
	g[outputNode] = GraphNode{
		ClassType: "SaveImage",
		Inputs:    map[string]any{"images": ref(decodeNode, 0), "filename_prefix": "router"},
	}

	return g, samplerNode, outputNode
}
