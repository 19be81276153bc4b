package types

// Vocabulary namespaces.
const (
	TimelineNS = "http://purl.org/NET/c4dm/timeline.owl#"
	DCTermsNS  = "http://purl.org/dc/terms/"
)

// Type tags.
const (
	TypeInterval         = TimelineNS + "Interval"
	TypeOriginMarker     = TimelineNS + "OriginMap"
	TypeRelativeTimeLine = TimelineNS + "RelativeTimeLine"
)

// Properties.
const (
	PropertyStart  = TimelineNS + "start"
	PropertyEnd    = TimelineNS + "end"
	PropertyOrigin = TimelineNS + "origin"
)

// Relations.
const (
	RelationTimeline      = TimelineNS + "timeline"
	RelationRangeTimeLine = TimelineNS + "rangeTimeLine"
	RelationCreator       = DCTermsNS + "creator"
)

// IntervalTypes is the set of type tags an entity must carry to be
// reconciled onto the timeline.
var IntervalTypes = []string{TypeInterval}
