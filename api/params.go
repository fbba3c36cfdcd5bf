package api

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/osmcha/osmcha/errs"
	"github.com/osmcha/osmcha/store"
)

func splitParam(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseIDList(v string) ([]int64, error) {
	var ids []int64
	for _, p := range splitParam(v) {
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, errs.Newf(errs.KindValidation, "invalid id %q", p)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseBoolParam(c *gin.Context, name string) (*bool, error) {
	v, ok := c.GetQuery(name)
	if !ok || v == "" {
		return nil, nil
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		t := true
		return &t, nil
	case "false", "0", "no":
		f := false
		return &f, nil
	}
	return nil, errs.Newf(errs.KindValidation, "invalid boolean for %s: %q", name, v)
}

func parseIntParam(c *gin.Context, name string) (*int, error) {
	v, ok := c.GetQuery(name)
	if !ok || v == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil, errs.Newf(errs.KindValidation, "invalid integer for %s: %q", name, v)
	}
	return &n, nil
}

func parseTimeParam(c *gin.Context, name string) (*time.Time, error) {
	v, ok := c.GetQuery(name)
	if !ok || v == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return &t, nil
		}
	}
	return nil, errs.Newf(errs.KindValidation, "invalid date for %s: %q", name, v)
}

// parseFilter maps the query string to the store filter.
func (s *Server) parseFilter(c *gin.Context) (store.Filter, error) {
	f := store.Filter{
		Geometry:    c.Query("geometry"),
		InBBox:      c.Query("in_bbox"),
		Users:       splitParam(c.Query("users")),
		UIDs:        splitParam(c.Query("uids")),
		CheckedBy:   splitParam(c.Query("checked_by")),
		Editor:      c.Query("editor"),
		Comment:     c.Query("comment"),
		Source:      c.Query("source"),
		ImageryUsed: c.Query("imagery_used"),
		Requester:   currentUser(c),
	}
	var err error
	if f.IDs, err = parseIDList(c.Query("ids")); err != nil {
		return f, err
	}
	if f.Reasons, err = parseIDList(c.Query("reasons")); err != nil {
		return f, err
	}
	if f.Tags, err = parseIDList(c.Query("tags")); err != nil {
		return f, err
	}
	if f.AllReasons, err = parseIDList(c.Query("all_reasons")); err != nil {
		return f, err
	}
	if f.AllTags, err = parseIDList(c.Query("all_tags")); err != nil {
		return f, err
	}

	if v := c.Query("area_lt"); v != "" {
		f.AreaLT, err = strconv.ParseFloat(v, 64)
		if err != nil {
			return f, errs.Newf(errs.KindValidation, "invalid area_lt: %q", v)
		}
	}

	if f.Checked, err = parseBoolParam(c, "checked"); err != nil {
		return f, err
	}
	if f.Harmful, err = parseBoolParam(c, "harmful"); err != nil {
		return f, err
	}
	if f.IsSuspect, err = parseBoolParam(c, "is_suspect"); err != nil {
		return f, err
	}
	if f.PowerfulEditor, err = parseBoolParam(c, "powerful_editor"); err != nil {
		return f, err
	}

	intParams := []struct {
		name string
		dst  **int
	}{
		{"create__gte", &f.CreateGTE}, {"create__lte", &f.CreateLTE},
		{"modify__gte", &f.ModifyGTE}, {"modify__lte", &f.ModifyLTE},
		{"delete__gte", &f.DeleteGTE}, {"delete__lte", &f.DeleteLTE},
		{"comments_count__gte", &f.CommentsCountGTE}, {"comments_count__lte", &f.CommentsCountLTE},
		{"number_reasons__gte", &f.NumberReasonsGTE},
	}
	for _, p := range intParams {
		if *p.dst, err = parseIntParam(c, p.name); err != nil {
			return f, err
		}
	}

	timeParams := []struct {
		name string
		dst  **time.Time
	}{
		{"date__gte", &f.DateGTE}, {"date__lte", &f.DateLTE},
		{"check_date__gte", &f.CheckDateGTE}, {"check_date__lte", &f.CheckDateLTE},
	}
	for _, p := range timeParams {
		if *p.dst, err = parseTimeParam(c, p.name); err != nil {
			return f, err
		}
	}

	if v, _ := parseBoolParam(c, "hide_whitelist"); v != nil && *v {
		f.HideWhitelist = true
	}
	if v, _ := parseBoolParam(c, "blacklist"); v != nil && *v {
		f.Blacklist = true
	}
	f.MappingTeams = splitParam(c.Query("mapping_teams"))
	f.ExcludeTeams = splitParam(c.Query("exclude_teams"))
	if v, _ := parseBoolParam(c, "exclude_trusted_teams"); v != nil && *v {
		f.ExcludeTrustedTeams = true
	}

	f.Metadata = parseMetadataParam(c.Query("metadata"))
	return f, nil
}

// parseMetadataParam splits metadata=<key>[__<op>]=<value>[,...]
// lookups. A value of * turns into a key-exists test in the store.
func parseMetadataParam(v string) []store.MetadataFilter {
	var filters []store.MetadataFilter
	for _, pair := range splitParam(v) {
		key, value, found := strings.Cut(pair, "=")
		if !found {
			key, value = pair, "*"
		}
		op := ""
		if idx := strings.LastIndex(key, "__"); idx > 0 {
			op = key[idx+2:]
			key = key[:idx]
		}
		filters = append(filters, store.MetadataFilter{Key: key, Op: op, Value: value})
	}
	return filters
}

func (s *Server) parsePagination(c *gin.Context) (page, pageSize int) {
	page, _ = strconv.Atoi(c.Query("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ = strconv.Atoi(c.Query("page_size"))
	if pageSize <= 0 {
		pageSize = s.defaultPageSize
	}
	if pageSize > s.maxPageSize {
		pageSize = s.maxPageSize
	}
	return page, pageSize
}
