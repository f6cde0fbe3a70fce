package classify

import (
	"regexp"
	"strings"
)

// VenueKind identifies site equipment found in quick-service restaurant
// networks. It decorates a node and never changes its role.
type VenueKind string

const (
	VenueNone           VenueKind = ""
	VenueDigitalMenu    VenueKind = "digital_menu"
	VenueKitchenDisplay VenueKind = "kitchen_display"
	VenueKitchenTimer   VenueKind = "kitchen_timer"
	VenueDriveThruTimer VenueKind = "drive_thru_timer"
	VenuePOSRegister    VenueKind = "pos_register"
	VenuePOSTablet      VenueKind = "pos_tablet"
	VenueReceiptPrinter VenueKind = "receipt_printer"
)

// Evidence weights. A family needs venueThreshold points, so a MAC prefix
// or a name match alone is enough but a model keyword alone is not.
const (
	venueNameScore  = 3
	venueMACScore   = 2
	venueModelScore = 1
	venueThreshold  = 2
	venueFullScore  = 3
)

type venueFamily struct {
	kind   VenueKind
	names  *regexp.Regexp
	ouis   []string
	models []string
}

// Declared most specific first: drive-thru timers before kitchen timers,
// tablets before registers.
var venueFamilies = []venueFamily{
	{
		kind:   VenueDriveThruTimer,
		names:  regexp.MustCompile(`(?i)drive.*thru.*timer|\bdt.*timer|drive.*timer|speed.*timer|service.*timer|lane.*timer`),
		ouis:   []string{"00:50:c2", "00:1a:79"},
		models: []string{"hme", "digi", "perfect"},
	},
	{
		kind:   VenueKitchenTimer,
		names:  regexp.MustCompile(`(?i)timer`),
		ouis:   []string{"00:50:c2", "00:1d:0f"},
		models: []string{"perfect", "digi", "taylor"},
	},
	{
		kind:   VenueDigitalMenu,
		names:  regexp.MustCompile(`(?i)menu.*board|digital.*menu|menu.*display|drive.*menu|menu.*screen|outdoor.*menu|indoor.*menu|menu.*tv`),
		ouis:   []string{"00:1b:21", "00:26:5a", "00:0c:e7"},
		models: []string{"samsung", "lg", "sony", "philips"},
	},
	{
		kind:   VenueKitchenDisplay,
		names:  regexp.MustCompile(`(?i)\bkds\b|kitchen.*display|kitchen.*screen|prep.*screen|expo.*screen|order.*display|kitchen.*monitor`),
		ouis:   []string{"00:1b:21", "00:26:5a", "a4:c3:f0"},
		models: []string{"toast", "revel", "square", "clover"},
	},
	{
		kind:   VenuePOSTablet,
		names:  regexp.MustCompile(`(?i)tablet|ipad|surface|mobile.*pos|handheld.*pos|server.*tablet|order.*tablet`),
		ouis:   []string{"00:50:f2", "a4:c3:f0", "00:1b:63", "28:cf:e9", "3c:15:c2"},
		models: []string{"ipad", "surface", "android", "toast", "square"},
	},
	{
		kind:   VenuePOSRegister,
		names:  regexp.MustCompile(`(?i)\bpos\b|\bpos\d|register|terminal|checkout|front.*counter|cashier|\btill\b`),
		ouis:   []string{"00:1c:42", "00:50:f2", "a4:c3:f0", "00:1b:63"},
		models: []string{"ncr", "toast", "square", "clover", "revel", "micros"},
	},
	{
		kind:   VenueReceiptPrinter,
		names:  regexp.MustCompile(`(?i)receipt.*printer|kitchen.*printer|label.*printer|order.*printer|ticket.*printer`),
		ouis:   []string{"00:07:61", "00:11:62", "00:80:92"},
		models: []string{"epson", "star", "zebra", "citizen"},
	},
}

// VenueResult is a venue classification with its confidence in [0,1].
type VenueResult struct {
	Kind       VenueKind
	Confidence float64
}

// ClassifyVenue scores every family on name, hardware address and model
// text and returns the first family, in declared order, that reaches the
// threshold.
func ClassifyVenue(name, mac, model string) VenueResult {
	name = strings.TrimSpace(name)
	mac = strings.ToLower(strings.TrimSpace(mac))
	model = strings.ToLower(model)

	for _, f := range venueFamilies {
		score := 0
		if name != "" && f.names.MatchString(name) {
			score += venueNameScore
		}
		for _, oui := range f.ouis {
			if strings.HasPrefix(mac, oui) {
				score += venueMACScore
				break
			}
		}
		for _, m := range f.models {
			if strings.Contains(model, m) {
				score += venueModelScore
				break
			}
		}
		if score >= venueThreshold {
			return VenueResult{Kind: f.kind, Confidence: min(float64(score)/venueFullScore, 1)}
		}
	}
	return VenueResult{}
}
