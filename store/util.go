package store

import (
	"database/sql"
	"encoding/json"
	"strconv"

	"github.com/osmcha/osmcha/geo"
)

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'f', 5, 64)
}

// mustJSON serializes for a JSONB parameter. Returned as string, pq
// would send []byte as bytea.
func mustJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		// all serialized store types marshal without error
		panic(err)
	}
	return string(b)
}

// bboxArgs returns the four corner arguments for ST_MakeEnvelope, or
// nils for a changeset without geometry.
func bboxArgs(b geo.Bounds, has bool) (minX, minY, maxX, maxY interface{}) {
	if !has || b.IsNil() {
		return nil, nil, nil, nil
	}
	return b.MinX, b.MinY, b.MaxX, b.MaxY
}

func scanBounds(minX, minY, maxX, maxY sql.NullFloat64) (geo.Bounds, bool) {
	if !minX.Valid || !minY.Valid || !maxX.Valid || !maxY.Valid {
		return geo.NilBounds, false
	}
	return geo.Bounds{
		MinX: minX.Float64,
		MinY: minY.Float64,
		MaxX: maxX.Float64,
		MaxY: maxY.Float64,
	}, true
}
