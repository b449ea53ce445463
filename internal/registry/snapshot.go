package registry

import (
	"sort"
	"strings"
	"time"

	"github.com/sells-group/region-engine/internal/model"
)

// snapshot is one immutable generation of the four reference tables and
// their indexes. It is built off to the side and published as a unit.
type snapshot struct {
	loadedAt time.Time

	regions       []*model.RegionProfile
	regionByKey   map[string]*model.RegionProfile
	regionsByCtry map[string][]*model.RegionProfile
	territories   []*model.Territory
	territoryCode map[string]*model.Territory
	territoryID   map[string]*model.Territory
	regionTerrs   map[string][]*model.Territory
	childrenByID  map[string][]*model.Territory
	modifiers     []*model.ScoreModifier
	modByRegion   map[string]map[string]*model.ScoreModifier
	packs         []*model.TimingPack
	packsByRegion map[string]map[string]*model.TimingPack
}

func emptySnapshot() *snapshot {
	return buildSnapshot(time.Time{}, nil, nil, nil, nil)
}

func buildSnapshot(
	loadedAt time.Time,
	regions []model.RegionProfile,
	territories []model.Territory,
	modifiers []model.ScoreModifier,
	packs []model.TimingPack,
) *snapshot {
	s := &snapshot{
		loadedAt:      loadedAt,
		regionByKey:   make(map[string]*model.RegionProfile, len(regions)*2),
		regionsByCtry: make(map[string][]*model.RegionProfile),
		territoryCode: make(map[string]*model.Territory, len(territories)),
		territoryID:   make(map[string]*model.Territory, len(territories)),
		regionTerrs:   make(map[string][]*model.Territory),
		childrenByID:  make(map[string][]*model.Territory),
		modByRegion:   make(map[string]map[string]*model.ScoreModifier),
		packsByRegion: make(map[string]map[string]*model.TimingPack),
	}

	for i := range regions {
		r := regions[i]
		r.Code = model.NormalizeCode(r.Code)
		r.Modifiers = r.Modifiers.Clamp()
		s.regions = append(s.regions, &r)
	}
	sort.Slice(s.regions, func(i, j int) bool { return s.regions[i].Code < s.regions[j].Code })
	for _, r := range s.regions {
		s.regionByKey[r.ID] = r
		s.regionByKey[r.Code] = r
		if cc := model.NormalizeCode(r.CountryCode); cc != "" {
			s.regionsByCtry[cc] = append(s.regionsByCtry[cc], r)
		}
	}

	for i := range territories {
		t := territories[i]
		t.Code = model.NormalizeCode(t.Code)
		s.territories = append(s.territories, &t)
	}
	sort.Slice(s.territories, func(i, j int) bool {
		a, b := s.territories[i], s.territories[j]
		if a.Level != b.Level {
			return a.Level < b.Level
		}
		return a.Code < b.Code
	})
	for _, t := range s.territories {
		s.territoryCode[t.Code] = t
		s.territoryID[t.ID] = t
		s.regionTerrs[t.RegionID] = append(s.regionTerrs[t.RegionID], t)
		if t.ParentID != "" {
			s.childrenByID[t.ParentID] = append(s.childrenByID[t.ParentID], t)
		}
	}

	for i := range modifiers {
		m := modifiers[i]
		s.modifiers = append(s.modifiers, &m)
	}
	sort.Slice(s.modifiers, func(i, j int) bool {
		a, b := s.modifiers[i], s.modifiers[j]
		if a.RegionID != b.RegionID {
			return a.RegionID < b.RegionID
		}
		return a.VerticalID < b.VerticalID
	})
	for _, m := range s.modifiers {
		byVertical := s.modByRegion[m.RegionID]
		if byVertical == nil {
			byVertical = make(map[string]*model.ScoreModifier)
			s.modByRegion[m.RegionID] = byVertical
		}
		byVertical[verticalKey(m.VerticalID)] = m
	}

	for i := range packs {
		p := packs[i]
		s.packs = append(s.packs, &p)
	}
	sort.Slice(s.packs, func(i, j int) bool {
		a, b := s.packs[i], s.packs[j]
		if a.RegionID != b.RegionID {
			return a.RegionID < b.RegionID
		}
		return a.Name < b.Name
	})
	for _, p := range s.packs {
		byName := s.packsByRegion[p.RegionID]
		if byName == nil {
			byName = make(map[string]*model.TimingPack)
			s.packsByRegion[p.RegionID] = byName
		}
		byName[packKey(p.Name)] = p
	}

	return s
}

// region resolves an ID or a code.
func (s *snapshot) region(key string) *model.RegionProfile {
	if r, ok := s.regionByKey[key]; ok {
		return r
	}
	return s.regionByKey[model.NormalizeCode(key)]
}

// regionID maps an ID or code to the canonical ID, passing unknown keys
// through unchanged.
func (s *snapshot) regionID(key string) string {
	if r := s.region(key); r != nil {
		return r.ID
	}
	return key
}

func verticalKey(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

func packKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
