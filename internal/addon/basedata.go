package addon

import "sort"

// ClassSpec is one sub-discipline of a class. Metric is the ranked
// performance axis, "dps" or "hps".
type ClassSpec struct {
	ID     int
	Name   string
	Slug   string
	Metric string
}

// Class is one playable class with its specs keyed by spec index.
type Class struct {
	ID    int
	Name  string
	Slug  string
	Specs map[int]*ClassSpec
}

// BaseData holds the addon's reference tables. Replaced wholesale on
// reload.
type BaseData struct {
	Classes        map[int]*Class
	RegionByServer map[string]string
}

// EmptyBaseData returns a usable zero table for when the addon files are
// missing.
func EmptyBaseData() *BaseData {
	return &BaseData{
		Classes:        make(map[int]*Class),
		RegionByServer: make(map[string]string),
	}
}

// ParseBaseData decodes the LogTracker_BaseData dump.
func ParseBaseData(src string) (*BaseData, error) {
	root, _, err := evalTable(src)
	if err != nil {
		return nil, err
	}

	base := EmptyBaseData()
	if classes := root.subTable("classes"); classes != nil {
		for _, classID := range classes.intKeys() {
			classTbl := classes.subTable(classID)
			if classTbl == nil {
				continue
			}
			cls := &Class{
				ID:    classID,
				Name:  classTbl.str("name", ""),
				Slug:  classTbl.str("slug", ""),
				Specs: make(map[int]*ClassSpec),
			}
			if specs := classTbl.subTable("specs"); specs != nil {
				for _, idx := range specs.intKeys() {
					specTbl := specs.subTable(idx)
					if specTbl == nil {
						continue
					}
					metric := specTbl.str("metric", "dps")
					if metric != "dps" && metric != "hps" {
						metric = "dps"
					}
					cls.Specs[idx] = &ClassSpec{
						ID:     specTbl.intval("id", idx),
						Name:   specTbl.str("name", ""),
						Slug:   specTbl.str("slug", ""),
						Metric: metric,
					}
				}
			}
			base.Classes[classID] = cls
		}
	}
	if regions := root.subTable("regionByServerName"); regions != nil {
		for _, server := range regions.stringKeys() {
			base.RegionByServer[server] = regions.str(server, "")
		}
	}
	return base, nil
}

// Region resolves a realm name to its LogService region code, defaulting
// to "us" for unlisted realms.
func (b *BaseData) Region(realm string) string {
	if r, ok := b.RegionByServer[realm]; ok && r != "" {
		return r
	}
	return "us"
}

// SpecsOrdered returns a class's specs by spec index ascending, or nil for
// an unknown class.
func (b *BaseData) SpecsOrdered(classID int) []*ClassSpec {
	cls, ok := b.Classes[classID]
	if !ok {
		return nil
	}
	idxs := make([]int, 0, len(cls.Specs))
	for idx := range cls.Specs {
		idxs = append(idxs, idx)
	}
	sort.Ints(idxs)
	specs := make([]*ClassSpec, 0, len(idxs))
	for _, idx := range idxs {
		specs = append(specs, cls.Specs[idx])
	}
	return specs
}
