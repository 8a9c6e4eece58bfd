// Package taxonomy defines the closed set of canonical trigger keys, the
// severity tier of each key and the source domain it belongs to.
//
// Severity is assigned here and nowhere else, so scoring stays independent of
// which connector produced a signal.
package taxonomy

import (
	"errors"
	"fmt"
	"sort"
)

type Key string

type Tier string

const (
	TierCritical Tier = "critical"
	TierStrong   Tier = "strong"
	TierSupport  Tier = "support"
)

type Domain string

const (
	DomainPermits           Domain = "permits"
	DomainLiens             Domain = "liens"
	DomainTaxCollector      Domain = "tax_collector"
	DomainCodeEnforcement   Domain = "code_enforcement"
	DomainCourts            Domain = "courts"
	DomainOfficialRecords   Domain = "official_records"
	DomainPropertyAppraiser Domain = "property_appraiser"
)

const (
	PermitIssued          Key = "permit_issued"
	PermitRoof            Key = "permit_roof"
	PermitAddition        Key = "permit_addition"
	PermitRemodel         Key = "permit_remodel"
	PermitPool            Key = "permit_pool"
	PermitSolar           Key = "permit_solar"
	PermitHVAC            Key = "permit_hvac"
	PermitElectrical      Key = "permit_electrical"
	PermitPlumbing        Key = "permit_plumbing"
	PermitWindowsDoors    Key = "permit_windows_doors"
	PermitFence           Key = "permit_fence"
	PermitNewConstruction Key = "permit_new_construction"
	PermitDemolition      Key = "permit_demolition"

	MechanicsLien       Key = "mechanics_lien"
	TaxLien             Key = "tax_lien"
	FederalTaxLien      Key = "federal_tax_lien"
	JudgmentLien        Key = "judgment_lien"
	CodeEnforcementLien Key = "code_enforcement_lien"
	HOALien             Key = "hoa_lien"
	LienRelease         Key = "lien_release"
	LienOther           Key = "lien_other"

	TaxDeedApplication Key = "tax_deed_application"
	TaxDeedSale        Key = "tax_deed_sale"
	DelinquentTax      Key = "delinquent_tax"
	TaxCertificateSold Key = "tax_certificate_sold"
	TaxPaymentPlan     Key = "tax_payment_plan"
	TaxRedeemed        Key = "tax_redeemed"
	TaxNotice          Key = "tax_notice"

	DemolitionOrder      Key = "demolition_order"
	UnsafeStructure      Key = "unsafe_structure"
	CodeFineImposed      Key = "code_fine_imposed"
	CodeViolation        Key = "code_violation"
	CodeHearingScheduled Key = "code_hearing_scheduled"
	VacantProperty       Key = "vacant_property"
	CodeCaseClosed       Key = "code_case_closed"
	CodeEnforcementOther Key = "code_enforcement_other"

	LisPendens               Key = "lis_pendens"
	ForeclosureFiling        Key = "foreclosure_filing"
	ForeclosureJudgment      Key = "foreclosure_judgment"
	ForeclosureSaleScheduled Key = "foreclosure_sale_scheduled"
	ProbateFiling            Key = "probate_filing"
	DivorceFiling            Key = "divorce_filing"
	BankruptcyFiling         Key = "bankruptcy_filing"
	EvictionFiling           Key = "eviction_filing"
	CivilJudgment            Key = "civil_judgment"
	CourtCaseClosed          Key = "court_case_closed"
	CourtFiling              Key = "court_filing"

	NoticeOfDefault      Key = "notice_of_default"
	DeathRecord          Key = "death_record"
	QuitclaimDeed        Key = "quitclaim_deed"
	DeedTransfer         Key = "deed_transfer"
	MortgageRecorded     Key = "mortgage_recorded"
	PowerOfAttorney      Key = "power_of_attorney"
	MortgageSatisfaction Key = "mortgage_satisfaction"
	OfficialRecord       Key = "official_record"

	HomesteadRemoved     Key = "homestead_removed"
	OwnerMailingChanged  Key = "owner_mailing_changed"
	OwnerChanged         Key = "owner_changed"
	AssessedValueChanged Key = "assessed_value_changed"
	AppraiserUpdate      Key = "appraiser_update"
)

type entry struct {
	severity int
	domain   Domain
}

// declared lists every key once; Validate checks it against table so a key
// added without a tier fails at startup instead of silently scoring as 1.
var declared = []Key{
	PermitIssued, PermitRoof, PermitAddition, PermitRemodel, PermitPool, PermitSolar,
	PermitHVAC, PermitElectrical, PermitPlumbing, PermitWindowsDoors, PermitFence,
	PermitNewConstruction, PermitDemolition,
	MechanicsLien, TaxLien, FederalTaxLien, JudgmentLien, CodeEnforcementLien, HOALien,
	LienRelease, LienOther,
	TaxDeedApplication, TaxDeedSale, DelinquentTax, TaxCertificateSold, TaxPaymentPlan,
	TaxRedeemed, TaxNotice,
	DemolitionOrder, UnsafeStructure, CodeFineImposed, CodeViolation, CodeHearingScheduled,
	VacantProperty, CodeCaseClosed, CodeEnforcementOther,
	LisPendens, ForeclosureFiling, ForeclosureJudgment, ForeclosureSaleScheduled,
	ProbateFiling, DivorceFiling, BankruptcyFiling, EvictionFiling, CivilJudgment,
	CourtCaseClosed, CourtFiling,
	NoticeOfDefault, DeathRecord, QuitclaimDeed, DeedTransfer, MortgageRecorded,
	PowerOfAttorney, MortgageSatisfaction, OfficialRecord,
	HomesteadRemoved, OwnerMailingChanged, OwnerChanged, AssessedValueChanged, AppraiserUpdate,
}

var table = map[Key]entry{
	PermitIssued:          {2, DomainPermits},
	PermitRoof:            {2, DomainPermits},
	PermitAddition:        {2, DomainPermits},
	PermitRemodel:         {2, DomainPermits},
	PermitPool:            {2, DomainPermits},
	PermitSolar:           {2, DomainPermits},
	PermitHVAC:            {2, DomainPermits},
	PermitElectrical:      {2, DomainPermits},
	PermitPlumbing:        {2, DomainPermits},
	PermitWindowsDoors:    {2, DomainPermits},
	PermitFence:           {2, DomainPermits},
	PermitNewConstruction: {3, DomainPermits},
	PermitDemolition:      {3, DomainPermits},

	MechanicsLien:       {4, DomainLiens},
	TaxLien:             {4, DomainLiens},
	FederalTaxLien:      {4, DomainLiens},
	JudgmentLien:        {4, DomainLiens},
	CodeEnforcementLien: {4, DomainLiens},
	HOALien:             {3, DomainLiens},
	LienRelease:         {1, DomainLiens},
	LienOther:           {1, DomainLiens},

	TaxDeedApplication: {5, DomainTaxCollector},
	TaxDeedSale:        {5, DomainTaxCollector},
	DelinquentTax:      {4, DomainTaxCollector},
	TaxCertificateSold: {4, DomainTaxCollector},
	TaxPaymentPlan:     {2, DomainTaxCollector},
	TaxRedeemed:        {1, DomainTaxCollector},
	TaxNotice:          {1, DomainTaxCollector},

	DemolitionOrder:      {5, DomainCodeEnforcement},
	UnsafeStructure:      {4, DomainCodeEnforcement},
	CodeFineImposed:      {4, DomainCodeEnforcement},
	CodeViolation:        {3, DomainCodeEnforcement},
	CodeHearingScheduled: {3, DomainCodeEnforcement},
	VacantProperty:       {3, DomainCodeEnforcement},
	CodeCaseClosed:       {1, DomainCodeEnforcement},
	CodeEnforcementOther: {1, DomainCodeEnforcement},

	LisPendens:               {5, DomainCourts},
	ForeclosureFiling:        {5, DomainCourts},
	ForeclosureJudgment:      {5, DomainCourts},
	ForeclosureSaleScheduled: {5, DomainCourts},
	ProbateFiling:            {4, DomainCourts},
	DivorceFiling:            {4, DomainCourts},
	BankruptcyFiling:         {4, DomainCourts},
	EvictionFiling:           {3, DomainCourts},
	CivilJudgment:            {3, DomainCourts},
	CourtCaseClosed:          {1, DomainCourts},
	CourtFiling:              {1, DomainCourts},

	NoticeOfDefault:      {5, DomainOfficialRecords},
	DeathRecord:          {4, DomainOfficialRecords},
	QuitclaimDeed:        {3, DomainOfficialRecords},
	DeedTransfer:         {3, DomainOfficialRecords},
	MortgageRecorded:     {2, DomainOfficialRecords},
	PowerOfAttorney:      {2, DomainOfficialRecords},
	MortgageSatisfaction: {1, DomainOfficialRecords},
	OfficialRecord:       {1, DomainOfficialRecords},

	HomesteadRemoved:     {4, DomainPropertyAppraiser},
	OwnerMailingChanged:  {3, DomainPropertyAppraiser},
	OwnerChanged:         {3, DomainPropertyAppraiser},
	AssessedValueChanged: {1, DomainPropertyAppraiser},
	AppraiserUpdate:      {1, DomainPropertyAppraiser},
}

var fallbacks = map[Domain]Key{
	DomainPermits:           PermitIssued,
	DomainLiens:             LienOther,
	DomainTaxCollector:      TaxNotice,
	DomainCodeEnforcement:   CodeEnforcementOther,
	DomainCourts:            CourtFiling,
	DomainOfficialRecords:   OfficialRecord,
	DomainPropertyAppraiser: AppraiserUpdate,
}

var domains = []Domain{
	DomainPermits,
	DomainLiens,
	DomainTaxCollector,
	DomainCodeEnforcement,
	DomainCourts,
	DomainOfficialRecords,
	DomainPropertyAppraiser,
}

// SeverityFor returns the 1..5 severity of k. Unknown keys score 1.
func SeverityFor(k Key) int {
	if e, ok := table[k]; ok {
		return e.severity
	}
	return 1
}

func TierFor(k Key) Tier {
	return TierOf(SeverityFor(k))
}

func TierOf(severity int) Tier {
	switch {
	case severity >= 5:
		return TierCritical
	case severity == 4:
		return TierStrong
	default:
		return TierSupport
	}
}

func DomainOf(k Key) (Domain, bool) {
	e, ok := table[k]
	return e.domain, ok
}

func Known(k Key) bool {
	_, ok := table[k]
	return ok
}

// Fallback is the conservative key a classifier returns for unmatched text.
func Fallback(d Domain) Key {
	return fallbacks[d]
}

func Domains() []Domain {
	out := make([]Domain, len(domains))
	copy(out, domains)
	return out
}

func ValidDomain(d Domain) bool {
	_, ok := fallbacks[d]
	return ok
}

func ValidTier(t Tier) bool {
	return t == TierCritical || t == TierStrong || t == TierSupport
}

func Keys() []Key {
	out := make([]Key, len(declared))
	copy(out, declared)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// KeysIn returns the keys whose default domain is d, sorted.
func KeysIn(d Domain) []Key {
	var out []Key
	for _, k := range declared {
		if table[k].domain == d {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// LowestSeverity is the smallest severity among the keys of domain d.
func LowestSeverity(d Domain) int {
	lowest := 0
	for _, k := range declared {
		e := table[k]
		if e.domain != d {
			continue
		}
		if lowest == 0 || e.severity < lowest {
			lowest = e.severity
		}
	}
	return lowest
}

func Validate() error {
	var errs []error
	seen := make(map[Key]struct{}, len(declared))
	for _, k := range declared {
		if _, dup := seen[k]; dup {
			errs = append(errs, fmt.Errorf("trigger key %q declared twice", k))
			continue
		}
		seen[k] = struct{}{}
		e, ok := table[k]
		if !ok {
			errs = append(errs, fmt.Errorf("trigger key %q has no severity", k))
			continue
		}
		if e.severity < 1 || e.severity > 5 {
			errs = append(errs, fmt.Errorf("trigger key %q severity %d out of range", k, e.severity))
		}
		if !ValidDomain(e.domain) {
			errs = append(errs, fmt.Errorf("trigger key %q has unknown domain %q", k, e.domain))
		}
	}
	for k := range table {
		if _, ok := seen[k]; !ok {
			errs = append(errs, fmt.Errorf("trigger key %q mapped but not declared", k))
		}
	}
	for _, d := range domains {
		if len(KeysIn(d)) == 0 {
			errs = append(errs, fmt.Errorf("domain %q has no trigger keys", d))
		}
		fb, ok := fallbacks[d]
		if !ok {
			errs = append(errs, fmt.Errorf("domain %q has no fallback key", d))
			continue
		}
		if SeverityFor(fb) != LowestSeverity(d) {
			errs = append(errs, fmt.Errorf("domain %q fallback %q is not its lowest severity", d, fb))
		}
		if TierFor(fb) != TierSupport {
			errs = append(errs, fmt.Errorf("domain %q fallback %q escalates to %s", d, fb, TierFor(fb)))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
