// Copyright 2023 Gustavo C. Viegas. All rights reserved.

//go:build linux || windows

package ctxt

import (
	_ "github.com/gogpu/wgpu/hal/vulkan"

	_ "github.com/gviegas/rhi/driver/wgpu"
)

func init() { preferred = []string{"vulkan"} }
