package compose

import "graphdoctor/src/envinfo"

// baselinePackages are always worth listing when installed: they sit under
// nearly every graph execution failure.
var baselinePackages = map[string]bool{
	"torch":        true,
	"torchvision":  true,
	"torchaudio":   true,
	"numpy":        true,
	"transformers": true,
	"safetensors":  true,
	"xformers":     true,
	"pillow":       true,
}

// selectPackages picks at most max packages, in descending relevance:
// packages named in the error text first, then the baseline set, then the
// rest in manifest order. Within each band the envinfo sort order (by name)
// is preserved.
func (c *Composer) selectPackages(errText string, max int) []envinfo.Package {
	if max <= 0 || len(c.env.Packages) == 0 {
		return nil
	}

	referenced := make([]envinfo.Package, 0, 4)
	baseline := make([]envinfo.Package, 0, len(baselinePackages))
	rest := make([]envinfo.Package, 0, len(c.env.Packages))
	for _, p := range c.env.Packages {
		switch {
		case mentionsPackage(errText, p.Name):
			referenced = append(referenced, p)
		case baselinePackages[p.Name]:
			baseline = append(baseline, p)
		default:
			rest = append(rest, p)
		}
	}

	out := make([]envinfo.Package, 0, max)
	for _, band := range [][]envinfo.Package{referenced, baseline, rest} {
		for _, p := range band {
			if len(out) == max {
				return out
			}
			out = append(out, p)
		}
	}
	return out
}

// mentionsPackage reports whether name appears in text as a standalone token.
// A plain substring check would make "re" match everything.
func mentionsPackage(text, name string) bool {
	if len(name) < 3 {
		return false
	}
	for i := 0; i+len(name) <= len(text); i++ {
		if text[i:i+len(name)] != name {
			continue
		}
		before := i == 0 || !isWordByte(text[i-1])
		after := i+len(name) == len(text) || !isWordByte(text[i+len(name)])
		if before && after {
			return true
		}
	}
	return false
}

func isWordByte(b byte) bool {
	return b == '_' || b == '-' ||
		(b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
