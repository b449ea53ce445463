package territory

// countryCodes lists the ISO alpha-2 codes the heuristic recognizes bare.
var countryCodes = map[string]struct{}{
	"AE": {}, "US": {}, "IN": {}, "GB": {}, "UK": {}, "SA": {}, "SG": {},
	"DE": {}, "JP": {}, "FR": {}, "CA": {}, "AU": {}, "QA": {}, "KW": {},
	"BH": {}, "OM": {}, "EG": {}, "BR": {}, "MX": {}, "NL": {},
}

var countryAliases = map[string]string{
	"united arab emirates":     "AE",
	"uae":                      "AE",
	"emirates":                 "AE",
	"united states":            "US",
	"united states of america": "US",
	"usa":                      "US",
	"america":                  "US",
	"india":                    "IN",
	"bharat":                   "IN",
	"united kingdom":           "GB",
	"great britain":            "GB",
	"england":                  "GB",
	"saudi arabia":             "SA",
	"ksa":                      "SA",
	"singapore":                "SG",
	"germany":                  "DE",
	"deutschland":              "DE",
	"japan":                    "JP",
	"france":                   "FR",
	"canada":                   "CA",
	"australia":                "AU",
	"qatar":                    "QA",
	"kuwait":                   "KW",
	"bahrain":                  "BH",
	"oman":                     "OM",
	"egypt":                    "EG",
	"brazil":                   "BR",
	"mexico":                   "MX",
	"netherlands":              "NL",
}

var stateAliases = map[string]placeRef{
	// UAE emirates.
	"dubai emirate":     {country: "AE", state: "DU"},
	"abu dhabi emirate": {country: "AE", state: "AZ"},
	"sharjah":           {country: "AE", state: "SH"},
	"ajman":             {country: "AE", state: "AJ"},
	"ras al khaimah":    {country: "AE", state: "RK"},
	"fujairah":          {country: "AE", state: "FU"},
	"umm al quwain":     {country: "AE", state: "UQ"},

	// US states.
	"california":     {country: "US", state: "CA"},
	"new york state": {country: "US", state: "NY"},
	"texas":          {country: "US", state: "TX"},
	"florida":        {country: "US", state: "FL"},
	"washington":     {country: "US", state: "WA"},
	"massachusetts":  {country: "US", state: "MA"},
	"illinois":       {country: "US", state: "IL"},
	"georgia":        {country: "US", state: "GA"},
	"colorado":       {country: "US", state: "CO"},
	"new jersey":     {country: "US", state: "NJ"},

	// Indian states.
	"maharashtra": {country: "IN", state: "MH"},
	"karnataka":   {country: "IN", state: "KA"},
	"delhi":       {country: "IN", state: "DL"},
	"tamil nadu":  {country: "IN", state: "TN"},
	"telangana":   {country: "IN", state: "TG"},
	"west bengal": {country: "IN", state: "WB"},
}

var cityAliases = map[string]placeRef{
	"dubai":         {country: "AE", state: "DU", city: "DXB"},
	"abu dhabi":     {country: "AE", state: "AZ", city: "AUH"},
	"los angeles":   {country: "US", state: "CA", city: "LAX"},
	"la":            {country: "US", state: "CA", city: "LAX"},
	"san francisco": {country: "US", state: "CA", city: "SFO"},
	"sf":            {country: "US", state: "CA", city: "SFO"},
	"new york":      {country: "US", state: "NY", city: "NYC"},
	"new york city": {country: "US", state: "NY", city: "NYC"},
	"nyc":           {country: "US", state: "NY", city: "NYC"},
	"manhattan":     {country: "US", state: "NY", city: "NYC"},
	"austin":        {country: "US", state: "TX", city: "AUS"},
	"mumbai":        {country: "IN", state: "MH", city: "BOM"},
	"bombay":        {country: "IN", state: "MH", city: "BOM"},
	"bengaluru":     {country: "IN", state: "KA", city: "BLR"},
	"bangalore":     {country: "IN", state: "KA", city: "BLR"},
	"new delhi":     {country: "IN", state: "DL", city: "DEL"},
}
