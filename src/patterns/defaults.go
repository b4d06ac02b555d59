package patterns

import "graphdoctor/src/contracts"

// DefaultRegistry returns the built-in pattern table used when no pattern
// file is configured. Priorities follow specificity: exact failure signatures
// sit near the top of the band, broad catch-alls at the bottom.
func DefaultRegistry() *Registry {
	reg, err := NewRegistry(1, defaultPatterns)
	if err != nil {
		// The built-in table is validated by tests; a failure here is a
		// programming error.
		panic(err)
	}
	return reg
}

var defaultPatterns = []contracts.ErrorPattern{
	{
		ID:       "cuda_oom_classic",
		Regex:    `CUDA out of memory|torch\.cuda\.OutOfMemoryError|CUDA error: out of memory`,
		Category: "memory",
		Priority: 95,
		Translations: map[string]string{
			"en": "The GPU ran out of memory. Lower the resolution or batch size, or enable model offloading.",
			"ja": "GPUメモリが不足しています。解像度やバッチサイズを下げるか、モデルのオフロードを有効にしてください。",
		},
	},
	{
		ID:       "cuda_device_assert",
		Regex:    `CUDA error: device-side assert triggered|CUBLAS_STATUS_(?:ALLOC_FAILED|EXECUTION_FAILED)`,
		Category: "memory",
		Priority: 90,
		Translations: map[string]string{
			"en": "A CUDA kernel failed on the device. This often follows an earlier out-of-memory condition; restart the host process.",
		},
	},
	{
		ID:       "missing_custom_node",
		Regex:    `(?i)node type .+ (?:not found|does not exist)|Cannot execute because node .+ does not exist`,
		Category: "workflow",
		Priority: 88,
		Translations: map[string]string{
			"en": "The workflow references a node type that is not installed. Install the custom node package that provides it.",
		},
	},
	{
		ID:       "module_not_found",
		Regex:    `(?m)^(?:ModuleNotFoundError|ImportError): `,
		Category: "dependency",
		Priority: 85,
		Translations: map[string]string{
			"en": "A Python dependency is missing. Install the module named in the error into the host's environment.",
		},
	},
	{
		ID:       "model_load_failed",
		Regex:    `Error while deserializing header|safetensors_rust\.SafetensorError|(?i)error loading model`,
		Category: "model",
		Priority: 82,
		Translations: map[string]string{
			"en": "A model file failed to load. The file may be corrupt or truncated; re-download the checkpoint.",
		},
	},
	{
		ID:       "tensor_shape_mismatch",
		Regex:    `mat1 and mat2 shapes cannot be multiplied|The size of tensor a .+ must match the size of tensor b`,
		Category: "tensor",
		Priority: 78,
		Translations: map[string]string{
			"en": "Tensor shapes are incompatible, usually from mixing models or latents of different sizes.",
		},
	},
	{
		ID:       "dtype_mismatch",
		Regex:    `expected scalar type|Input type \(.+\) and weight type \(.+\) should be the same`,
		Category: "tensor",
		Priority: 75,
		Translations: map[string]string{
			"en": "Tensor dtypes are inconsistent. Check precision settings (fp16/fp32) across the workflow.",
		},
	},
	{
		ID:       "file_not_found",
		Regex:    `FileNotFoundError|No such file or directory`,
		Category: "filesystem",
		Priority: 70,
		Translations: map[string]string{
			"en": "A required file is missing. Verify the path and that the referenced asset exists.",
		},
	},
	{
		ID:       "permission_denied",
		Regex:    `PermissionError|Permission denied`,
		Category: "filesystem",
		Priority: 68,
		Translations: map[string]string{
			"en": "The host process lacks permission to access a file or directory.",
		},
	},
	{
		ID:       "connection_refused",
		Regex:    `ConnectionRefusedError|Connection refused|Errno 111`,
		Category: "network",
		Priority: 65,
		Translations: map[string]string{
			"en": "A network peer refused the connection. Check that the remote service is running and reachable.",
		},
	},
	{
		ID:       "generic_runtime_error",
		Regex:    `(?m)^RuntimeError: `,
		Category: "runtime",
		Priority: 52,
		Translations: map[string]string{
			"en": "A runtime error occurred. The last line of the traceback names the failing operation.",
		},
	},
	{
		ID:       "generic_value_error",
		Regex:    `(?m)^(?:ValueError|TypeError|KeyError): `,
		Category: "runtime",
		Priority: 50,
		Translations: map[string]string{
			"en": "A value passed between nodes was invalid. Check the inputs of the node named in the traceback.",
		},
	},
}
