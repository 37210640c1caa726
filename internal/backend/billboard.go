package backend

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"log/slog"
	"os"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
	_ "golang.org/x/image/webp"

	"github.com/mattjoyce/sketchar/internal/config"
	"github.com/mattjoyce/sketchar/internal/log"
)

// Billboard builds a thin box whose front and back faces carry the input
// image as their base color texture.
type Billboard struct {
	width  float64
	depth  float64
	logger *slog.Logger
}

func NewBillboard(cfg config.BillboardConfig) *Billboard {
	def := config.DefaultBillboardConf()
	if cfg.Width <= 0 {
		cfg.Width = def.Width
	}
	if cfg.Depth <= 0 {
		cfg.Depth = def.Depth
	}
	return &Billboard{
		width:  cfg.Width,
		depth:  cfg.Depth,
		logger: log.WithBackend("billboard"),
	}
}

func (b *Billboard) Name() string { return "billboard" }

func (b *Billboard) OutputName(inv Invocation) string {
	return expandOutputName("{stem}.glb", inv)
}

func (b *Billboard) Generate(ctx context.Context, inv Invocation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := os.ReadFile(inv.InputPath)
	if err != nil {
		return fmt.Errorf("read staged input: %w", err)
	}
	doc, err := b.Build(raw)
	if err != nil {
		return err
	}

	out := b.OutputName(inv)
	if err := gltf.SaveBinary(doc, out); err != nil {
		return fmt.Errorf("write glb: %w", err)
	}
	b.logger.Debug("billboard written", "job_id", inv.JobID, "path", out)
	return nil
}

// Build returns the glTF document for the image in raw.
func (b *Billboard) Build(raw []byte) (*gltf.Document, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return nil, fmt.Errorf("%w: empty %s image", ErrInvalidImage, format)
	}

	texture, mimeType, err := textureBytes(raw, format)
	if err != nil {
		return nil, err
	}

	w := float32(b.width)
	h := float32(b.width * float64(cfg.Height) / float64(cfg.Width))
	d := float32(b.depth)
	positions, normals, uvs, indices := boxGeometry(w, h, d)

	doc := gltf.NewDocument()
	doc.Asset.Generator = "sketchar"

	imgIdx, err := modeler.WriteImage(doc, "texture", mimeType, bytes.NewReader(texture))
	if err != nil {
		return nil, fmt.Errorf("embed texture: %w", err)
	}
	doc.Textures = append(doc.Textures, &gltf.Texture{Source: gltf.Index(imgIdx)})
	doc.Materials = append(doc.Materials, &gltf.Material{
		Name:        "billboard",
		DoubleSided: true,
		PBRMetallicRoughness: &gltf.PBRMetallicRoughness{
			BaseColorTexture: &gltf.TextureInfo{Index: uint32(len(doc.Textures) - 1)},
			MetallicFactor:   gltf.Float(0),
			RoughnessFactor:  gltf.Float(1),
		},
	})

	doc.Meshes = append(doc.Meshes, &gltf.Mesh{
		Name: "billboard",
		Primitives: []*gltf.Primitive{{
			Indices: gltf.Index(modeler.WriteIndices(doc, indices)),
			Attributes: gltf.Attribute{
				gltf.POSITION:   modeler.WritePosition(doc, positions),
				gltf.NORMAL:     modeler.WriteNormal(doc, normals),
				gltf.TEXCOORD_0: modeler.WriteTextureCoord(doc, uvs),
			},
			Material: gltf.Index(uint32(len(doc.Materials) - 1)),
			Mode:     gltf.PrimitiveTriangles,
		}},
	})
	doc.Nodes = append(doc.Nodes, &gltf.Node{Name: "billboard", Mesh: gltf.Index(uint32(len(doc.Meshes) - 1))})
	doc.Scenes[0].Nodes = append(doc.Scenes[0].Nodes, uint32(len(doc.Nodes)-1))

	return doc, nil
}

// textureBytes returns an embeddable texture. PNG and JPEG pass through;
// other formats are re-encoded as PNG.
func textureBytes(raw []byte, format string) ([]byte, string, error) {
	switch format {
	case "png":
		return raw, "image/png", nil
	case "jpeg":
		return raw, "image/jpeg", nil
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, "", fmt.Errorf("re-encode texture: %w", err)
	}
	return buf.Bytes(), "image/png", nil
}

// boxGeometry returns a w×h×d box centered on the origin. The front (+Z) and
// back (-Z) faces map the whole texture; side faces sample its edges.
func boxGeometry(w, h, d float32) ([][3]float32, [][3]float32, [][2]float32, []uint16) {
	x, y, z := w/2, h/2, d/2

	type face struct {
		normal  [3]float32
		corners [4][3]float32 // counter-clockwise seen from outside
		uv      [4][2]float32
	}
	full := [4][2]float32{{0, 1}, {1, 1}, {1, 0}, {0, 0}}
	faces := []face{
		{[3]float32{0, 0, 1}, [4][3]float32{{-x, -y, z}, {x, -y, z}, {x, y, z}, {-x, y, z}}, full},
		{[3]float32{0, 0, -1}, [4][3]float32{{x, -y, -z}, {-x, -y, -z}, {-x, y, -z}, {x, y, -z}}, full},
		{[3]float32{1, 0, 0}, [4][3]float32{{x, -y, z}, {x, -y, -z}, {x, y, -z}, {x, y, z}}, [4][2]float32{{1, 1}, {1, 1}, {1, 0}, {1, 0}}},
		{[3]float32{-1, 0, 0}, [4][3]float32{{-x, -y, -z}, {-x, -y, z}, {-x, y, z}, {-x, y, -z}}, [4][2]float32{{0, 1}, {0, 1}, {0, 0}, {0, 0}}},
		{[3]float32{0, 1, 0}, [4][3]float32{{-x, y, z}, {x, y, z}, {x, y, -z}, {-x, y, -z}}, [4][2]float32{{0, 0}, {1, 0}, {1, 0}, {0, 0}}},
		{[3]float32{0, -1, 0}, [4][3]float32{{-x, -y, -z}, {x, -y, -z}, {x, -y, z}, {-x, -y, z}}, [4][2]float32{{0, 1}, {1, 1}, {1, 1}, {0, 1}}},
	}

	positions := make([][3]float32, 0, 24)
	normals := make([][3]float32, 0, 24)
	uvs := make([][2]float32, 0, 24)
	indices := make([]uint16, 0, 36)
	for _, f := range faces {
		base := uint16(len(positions))
		for i := range f.corners {
			positions = append(positions, f.corners[i])
			normals = append(normals, f.normal)
			uvs = append(uvs, f.uv[i])
		}
		indices = append(indices, base, base+1, base+2, base, base+2, base+3)
	}
	return positions, normals, uvs, indices
}
