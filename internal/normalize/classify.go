package normalize

import (
	"regexp"
	"strings"

	"parceltriggers/internal/taxonomy"
)

// rule matches when every pattern matches the folded text.
type rule struct {
	key taxonomy.Key
	all []*regexp.Regexp
}

func match(key taxonomy.Key, patterns ...string) rule {
	r := rule{key: key}
	for _, p := range patterns {
		r.all = append(r.all, regexp.MustCompile(p))
	}
	return r
}

func (r rule) matches(text string) bool {
	for _, re := range r.all {
		if !re.MatchString(text) {
			return false
		}
	}
	return true
}

type classifier struct {
	domain taxonomy.Domain
	rules  []rule
}

// classify returns the key of the first matching rule, or the domain
// fallback. Rule order is the precedence.
func (c classifier) classify(eventType string, fields ...string) taxonomy.Key {
	text := fold(eventType, fields...)
	if text == "" {
		return taxonomy.Fallback(c.domain)
	}
	for _, r := range c.rules {
		if r.matches(text) {
			return r.key
		}
	}
	return taxonomy.Fallback(c.domain)
}

var reSpace = regexp.MustCompile(`\s+`)

func fold(eventType string, fields ...string) string {
	parts := make([]string, 0, len(fields)+1)
	if s := strings.TrimSpace(eventType); s != "" {
		parts = append(parts, s)
	}
	for _, f := range fields {
		if s := strings.TrimSpace(f); s != "" {
			parts = append(parts, s)
		}
	}
	text := strings.ToLower(strings.Join(parts, " "))
	text = strings.NewReplacer("_", " ", "-", " ", "’", "'").Replace(text)
	return strings.TrimSpace(reSpace.ReplaceAllString(text, " "))
}

const releaseWords = `\bsatisf|\breleas|\bdischarg|\breconvey|\bcancel|\bwithdr|\bterminat`

var permits = classifier{
	domain: taxonomy.DomainPermits,
	rules: []rule{
		match(taxonomy.PermitDemolition, `\bdemo(lition|lish)?\b|\bwreck(ing)?\b`),
		match(taxonomy.PermitNewConstruction, `\bnew (construction|single family|sfr|residence|home|dwelling|building)\b`),
		match(taxonomy.PermitAddition, `\baddition\b`),
		match(taxonomy.PermitRoof, `\bre ?roof|\broof(ing)?\b|\bshingles?\b`),
		match(taxonomy.PermitPool, `\bpool\b|\bspa\b`),
		match(taxonomy.PermitSolar, `\bsolar\b|\bphotovoltaic\b|\bpv\b`),
		match(taxonomy.PermitHVAC, `\bhvac\b|\ba/c\b|\bair condition|\bheat pump\b|\bmechanical\b`),
		match(taxonomy.PermitElectrical, `\belectric(al)?\b|\bservice upgrade\b|\bpanel\b`),
		match(taxonomy.PermitPlumbing, `\bplumb(ing)?\b|\bwater heater\b|\brepipe\b|\bsewer\b`),
		match(taxonomy.PermitRemodel, `\bremodel|\brenovat|\balteration|\binterior\b|\bkitchen\b|\bbath(room)?\b`),
		match(taxonomy.PermitWindowsDoors, `\bwindows?\b|\bdoors?\b|\bshutters?\b`),
		match(taxonomy.PermitFence, `\bfenc(e|ing)\b`),
	},
}

var liens = classifier{
	domain: taxonomy.DomainLiens,
	rules: []rule{
		match(taxonomy.LienRelease, releaseWords),
		match(taxonomy.HOALien, `\bhoa\b|\bhomeowners?\b|\bcondominium\b|\bassociation\b|\bassessment lien\b`),
		match(taxonomy.MechanicsLien, `\bmechanic|\bconstruction lien\b|\bclaim of lien\b|\bmaterialm[ae]n\b`),
		match(taxonomy.FederalTaxLien, `\bfederal tax\b|\birs\b|\binternal revenue\b`),
		match(taxonomy.TaxLien, `\bstate tax\b|\btax warrant\b|\bdepartment of revenue\b|\btax lien\b|\bsales tax\b`),
		match(taxonomy.CodeEnforcementLien, `\bcode (enforcement|compliance|lien)\b|\bmunicipal lien\b|\bnuisance\b|\babatement\b`),
		match(taxonomy.JudgmentLien, `\bjudge?ment\b`),
	},
}

var taxCollector = classifier{
	domain: taxonomy.DomainTaxCollector,
	rules: []rule{
		match(taxonomy.TaxRedeemed, `\bredeem|\bredemption\b|\bpaid in full\b|\bpayment (received|posted)\b|\bcancel`),
		match(taxonomy.TaxDeedSale, `\btax deed sale\b|\bsale (scheduled|date)\b|\bauction\b`),
		match(taxonomy.TaxDeedApplication, `\btax deed app|\btda\b|\bapplication for tax deed\b`),
		match(taxonomy.TaxCertificateSold, `\bcert(ificate)?s?\b`),
		match(taxonomy.TaxPaymentPlan, `\binstall?ments?\b|\bpayment plan\b|\bpartial payment\b`),
		match(taxonomy.DelinquentTax, `\bdelinquen|\bpast due\b|\bunpaid\b|\boverdue\b|\blate notice\b`),
	},
}

var codeEnforcement = classifier{
	domain: taxonomy.DomainCodeEnforcement,
	rules: []rule{
		match(taxonomy.CodeCaseClosed, `\bclosed\b|\bcomplied\b|\bin compliance\b|\bcompliance (achieved|met)\b|\bdismiss|\bresolved\b|\babated\b`),
		match(taxonomy.DemolitionOrder, `\bdemolition\b|\bdemolish|\border to demolish\b`),
		match(taxonomy.UnsafeStructure, `\bcondemn|\bunsafe\b|\bunfit\b|\bred tag|\bdangerous building\b`),
		match(taxonomy.CodeFineImposed, `\bfines?\b|\blien\b|\bpenalt`),
		match(taxonomy.CodeHearingScheduled, `\bhearing\b|\bmagistrate\b|\bboard order\b|\bsummons\b`),
		match(taxonomy.VacantProperty, `\bvacant\b|\bboarded\b|\babandon`),
		match(taxonomy.CodeViolation, `\bviolations?\b|\bovergrown\b|\bjunk\b|\bdebris\b|\btrash\b|\binoperable\b|\bcomplaint\b|\bcase opened\b`),
	},
}

var courts = classifier{
	domain: taxonomy.DomainCourts,
	rules: []rule{
		match(taxonomy.CourtCaseClosed, `\bdismiss|\bsatisfaction of judge?ment\b|\bcase closed\b|\bdisposed\b`),
		match(taxonomy.LisPendens, `\blis pendens\b|\bnotice of pendency\b`),
		match(taxonomy.ForeclosureJudgment, `\bjudge?ment (of|for) foreclosure\b|\bforeclosure judge?ment\b`),
		match(taxonomy.ForeclosureSaleScheduled, `\bforeclosure sale\b|\bnotice of sale\b|\bsale date\b|\bcertificate of sale\b`),
		match(taxonomy.ForeclosureFiling, `\bforeclos`),
		match(taxonomy.ProbateFiling, `\bprobate\b|\bestate of\b|\bsummary administration\b|\bletters of administration\b|\bguardianship\b`),
		match(taxonomy.DivorceFiling, `\bdissolution of marriage\b|\bdivorce\b`),
		match(taxonomy.BankruptcyFiling, `\bbankrupt|\bchapter (7|11|13)\b`),
		match(taxonomy.EvictionFiling, `\beviction\b|\blandlord tenant\b|\bunlawful detainer\b|\bpossession\b`),
		match(taxonomy.CivilJudgment, `\bjudge?ment\b|\bsmall claims\b`),
	},
}

var officialRecords = classifier{
	domain: taxonomy.DomainOfficialRecords,
	rules: []rule{
		match(taxonomy.MortgageSatisfaction, releaseWords, `\bmortgage\b|\bdeed of trust\b|\bheloc\b`),
		match(taxonomy.LienRelease, releaseWords),
		match(taxonomy.LisPendens, `\blis pendens\b|\bnotice of pendency\b`),
		match(taxonomy.NoticeOfDefault, `\bnotice of default\b|\btrustee'?s? sale\b`),
		match(taxonomy.DeathRecord, `\bdeath\b|\bheirship\b|\bpersonal representative\b|\bdeceased\b`),
		match(taxonomy.MechanicsLien, `\bmechanic|\bclaim of lien\b|\bconstruction lien\b`),
		match(taxonomy.FederalTaxLien, `\bfederal tax lien\b|\birs\b`),
		match(taxonomy.TaxLien, `\btax lien\b|\btax warrant\b`),
		match(taxonomy.JudgmentLien, `\bjudge?ment\b`),
		match(taxonomy.LienOther, `\blien\b`),
		match(taxonomy.QuitclaimDeed, `\bquit ?claim\b`),
		match(taxonomy.MortgageRecorded, `\bmortgage\b|\bdeed of trust\b|\bheloc\b`),
		match(taxonomy.DeedTransfer, `\bdeed\b|\bconveyance\b`),
		match(taxonomy.PowerOfAttorney, `\bpower of attorney\b|\bpoa\b`),
	},
}

var propertyAppraiser = classifier{
	domain: taxonomy.DomainPropertyAppraiser,
	rules: []rule{
		match(taxonomy.OwnerMailingChanged, `\bmailing\b|\bmail address\b`),
		match(taxonomy.HomesteadRemoved, `\bhomestead\b|\bexemption\b`, `\bremov|\brevok|\bdeni|\bcancel|\bdropped\b|\bexpired\b`),
		match(taxonomy.OwnerChanged, `\bowner(ship)? (change|changed|transfer)\b|\bnew owner\b|\bsale recorded\b|\bqualified sale\b|\bdeed\b`),
		match(taxonomy.AssessedValueChanged, `\bassess|\bvaluation\b|\bjust value\b|\bmarket value\b|\btaxable value\b`),
	},
}

var byDomain = map[taxonomy.Domain]classifier{
	taxonomy.DomainPermits:           permits,
	taxonomy.DomainLiens:             liens,
	taxonomy.DomainTaxCollector:      taxCollector,
	taxonomy.DomainCodeEnforcement:   codeEnforcement,
	taxonomy.DomainCourts:            courts,
	taxonomy.DomainOfficialRecords:   officialRecords,
	taxonomy.DomainPropertyAppraiser: propertyAppraiser,
}

func ClassifyPermit(eventType string, fields ...string) taxonomy.Key {
	return permits.classify(eventType, fields...)
}

func ClassifyLien(eventType string, fields ...string) taxonomy.Key {
	return liens.classify(eventType, fields...)
}

func ClassifyTaxCollector(eventType string, fields ...string) taxonomy.Key {
	return taxCollector.classify(eventType, fields...)
}

func ClassifyCodeEnforcement(eventType string, fields ...string) taxonomy.Key {
	return codeEnforcement.classify(eventType, fields...)
}

func ClassifyCourt(eventType string, fields ...string) taxonomy.Key {
	return courts.classify(eventType, fields...)
}

func ClassifyOfficialRecord(eventType string, fields ...string) taxonomy.Key {
	return officialRecords.classify(eventType, fields...)
}

func ClassifyPropertyAppraiser(eventType string, fields ...string) taxonomy.Key {
	return propertyAppraiser.classify(eventType, fields...)
}

// Classify dispatches to the classifier of domain d. Unknown domains yield
// the generic official_record key.
func Classify(d taxonomy.Domain, eventType string, fields ...string) taxonomy.Key {
	c, ok := byDomain[d]
	if !ok {
		return taxonomy.OfficialRecord
	}
	return c.classify(eventType, fields...)
}
