/*
File: data.go
Version: 1.0.0
Description: Static reputation datasets: TLD risk sets, heuristic keyword
             tables for the classifier fallback ladder, and the curated seed
             patterns used to bootstrap the pattern classifier.
*/

package main

// highRiskTLDs attract a higher context multiplier. Mostly free or
// heavily-abused registries.
var highRiskTLDs = map[string]struct{}{
	"accountant": {}, "bid": {}, "buzz": {}, "cam": {}, "cf": {}, "cfd": {},
	"click": {}, "country": {}, "cricket": {}, "cyou": {}, "date": {},
	"download": {}, "faith": {}, "ga": {}, "gdn": {}, "gq": {}, "icu": {},
	"kim": {}, "lat": {}, "link": {}, "loan": {}, "men": {}, "ml": {},
	"mom": {}, "monster": {}, "ooo": {}, "party": {}, "pics": {}, "pw": {},
	"quest": {}, "racing": {}, "rest": {}, "review": {}, "sbs": {},
	"science": {}, "stream": {}, "surf": {}, "tk": {}, "top": {},
	"trade": {}, "uno": {}, "win": {}, "work": {}, "xin": {}, "zip": {},
}

// lowRiskTLDs lower the context multiplier: high-reputation or
// tightly-controlled registries.
var lowRiskTLDs = map[string]struct{}{
	"com": {}, "net": {}, "org": {}, "edu": {}, "gov": {}, "mil": {},
	"int": {}, "arpa": {},
	"us": {}, "uk": {}, "de": {}, "fr": {}, "nl": {}, "ch": {}, "se": {},
	"no": {}, "fi": {}, "dk": {}, "at": {}, "be": {}, "ie": {},
	"jp": {}, "kr": {}, "sg": {}, "au": {}, "nz": {}, "ca": {},
}

// heuristicRule is one rung of the static keyword fallback ladder. Rules are
// tried in order; the first whose keywords match the reason or rule text
// wins.
type heuristicRule struct {
	keywords   []string
	category   string
	risk       string
	confidence float64
}

// heuristicLadder is consulted only when no learned pattern clears the match
// threshold. Malware outranks tracking so that e.g. "malware tracking list"
// classifies as Malware.
var heuristicLadder = []heuristicRule{
	{[]string{"malware", "malicious", "virus", "trojan", "botnet", "c2", "ransom"}, CategoryMalware, RiskHigh, 0.95},
	{[]string{"phish", "scam", "fraud"}, CategoryMalware, RiskHigh, 0.95},
	{[]string{"tracking", "tracker", "telemetry", "analytics", "beacon"}, CategoryTracker, RiskMedium, 0.90},
	{[]string{"privacy", "fingerprint", "spyware", "surveillance"}, CategoryPrivacy, RiskMedium, 0.85},
	{[]string{"ads", "ad filter", "advert", "adserver", "banner", "popup", "sponsor"}, CategoryAds, RiskLow, 0.80},
}

// ruleClasses normalize free-form rule/reason text into a coarse rule
// pattern dimension for learned patterns.
var ruleClasses = []struct {
	keywords []string
	class    string
}{
	{[]string{"malware", "malicious", "virus", "phish", "botnet", "threat"}, "MALWARE"},
	{[]string{"tracking", "tracker", "telemetry", "analytics"}, "TRACKING"},
	{[]string{"ads", "ad filter", "advert", "banner", "sponsor"}, "ADS"},
	{[]string{"privacy", "fingerprint", "spyware"}, "PRIVACY"},
	{[]string{"social"}, "SOCIAL"},
	{[]string{"adult", "porn", "gambling"}, "ADULT"},
}

// clientKeywords map client identifier substrings to a device class when no
// configured CIDR range matches.
var clientKeywords = []struct {
	keywords []string
	class    string
}{
	{[]string{"iphone", "ipad", "android", "mobile", "phone", "tablet"}, clientMobile},
	{[]string{"iot", "camera", "thermostat", "sensor", "plug", "bulb", "tv", "echo", "hub"}, clientIOT},
	{[]string{"desktop", "laptop", "pc-", "-pc", "macbook", "imac", "workstation"}, clientDesktop},
}

// seedPattern is a bootstrap pattern installed at classifier construction so
// the engine is never blind on first run.
type seedPattern struct {
	reason      string
	rulePattern string
	category    string
}

var seedPatterns = []seedPattern{
	{"blocked by tracking filter", "TRACKING", CategoryTracker},
	{"blocked by malware filter", "MALWARE", CategoryMalware},
	{"blocked by ad filter", "ADS", CategoryAds},
	{"blocked by privacy filter", "PRIVACY", CategoryPrivacy},
	{"threat intelligence match", "MALWARE", CategoryMalware},
}
