// Package boundary aggregates a finished accessibility surface over
// administrative-boundary polygons, producing per-zone tabular statistics.
// It reads core outputs only; none of the decay or convolution math lives
// here.
package boundary

import (
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"
)

// Zone is one administrative polygon: an identifier, a display name, and the
// rings tested for cell-center containment.
type Zone struct {
	ID   string
	Name string

	rings [][]float64 // flat XY ring coordinates, exterior and holes alike
	minX  float64
	minY  float64
	maxX  float64
	maxY  float64
}

// Contains reports whether the ground point lies inside the zone, by the
// even-odd rule across all rings so holes and multipart polygons behave.
func (z *Zone) Contains(x, y float64) bool {
	if x < z.minX || x > z.maxX || y < z.minY || y > z.maxY {
		return false
	}
	inside := false
	pt := geom.Coord{x, y}
	for _, ring := range z.rings {
		if xy.IsPointInRing(geom.XY, pt, ring) {
			inside = !inside
		}
	}
	return inside
}

// LoadZones reads polygon zones from a shapefile. idField and nameField name
// the attribute columns carrying the zone identifier and label; a missing
// name field falls back to the identifier.
func LoadZones(shpPath, idField, nameField string) ([]Zone, error) {
	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "boundary: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	fieldIdx := make(map[string]int, len(fields))
	for i, f := range fields {
		name := strings.TrimRight(f.String(), "\x00")
		fieldIdx[strings.ToLower(name)] = i
	}
	idIdx, ok := fieldIdx[strings.ToLower(idField)]
	if !ok {
		return nil, eris.Errorf("boundary: shapefile has no %q attribute", idField)
	}
	nameIdx, hasName := fieldIdx[strings.ToLower(nameField)]

	var zones []Zone
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()
		poly, ok := shape.(*shp.Polygon)
		if !ok || len(poly.Points) == 0 {
			skipped++
			continue
		}

		z := Zone{
			ID:   attr(reader, idIdx),
			minX: poly.Box.MinX,
			minY: poly.Box.MinY,
			maxX: poly.Box.MaxX,
			maxY: poly.Box.MaxY,
		}
		if hasName {
			z.Name = attr(reader, nameIdx)
		}
		if z.Name == "" {
			z.Name = z.ID
		}

		for i := int32(0); i < poly.NumParts; i++ {
			start := poly.Parts[i]
			end := int32(len(poly.Points))
			if i+1 < poly.NumParts {
				end = poly.Parts[i+1]
			}
			ring := make([]float64, 0, 2*(end-start))
			for j := start; j < end; j++ {
				ring = append(ring, poly.Points[j].X, poly.Points[j].Y)
			}
			z.rings = append(z.rings, ring)
		}
		zones = append(zones, z)
	}

	if skipped > 0 {
		zap.L().Debug("boundary: skipped non-polygon records",
			zap.String("shapefile", shpPath),
			zap.Int("skipped", skipped),
		)
	}
	if len(zones) == 0 {
		return nil, eris.Errorf("boundary: shapefile %s holds no polygon zones", shpPath)
	}
	return zones, nil
}

func attr(reader *shp.Reader, idx int) string {
	return strings.TrimSpace(strings.TrimRight(reader.Attribute(idx), "\x00"))
}
