package normalize

import (
	"testing"

	"parceltriggers/internal/taxonomy"
)

type classifyCase struct {
	eventType string
	text      string
	want      taxonomy.Key
}

func runCases(t *testing.T, name string, fn func(string, ...string) taxonomy.Key, cases []classifyCase) {
	t.Helper()
	for _, tc := range cases {
		got := fn(tc.eventType, tc.text)
		if got != tc.want {
			t.Fatalf("%s(%q, %q) = %s, want %s", name, tc.eventType, tc.text, got, tc.want)
		}
		if !taxonomy.Known(got) {
			t.Fatalf("%s returned unknown key %q", name, got)
		}
	}
}

func TestClassifyPermit(t *testing.T) {
	runCases(t, "ClassifyPermit", ClassifyPermit, []classifyCase{
		{"permit", "RE-ROOF SHINGLE TO SHINGLE", taxonomy.PermitRoof},
		{"permit", "Demolition of detached garage and pool", taxonomy.PermitDemolition},
		{"permit", "New Single Family Residence w/ pool", taxonomy.PermitNewConstruction},
		{"permit", "Residential addition 400 sqft", taxonomy.PermitAddition},
		{"permit", "Kitchen remodel", taxonomy.PermitRemodel},
		{"permit", "Replace A/C condenser", taxonomy.PermitHVAC},
		{"permit", "Roof mounted solar PV system", taxonomy.PermitRoof},
		{"permit", "Solar PV system", taxonomy.PermitSolar},
		{"permit", "Impact windows and doors", taxonomy.PermitWindowsDoors},
		{"permit", "200A service upgrade", taxonomy.PermitElectrical},
		{"permit", "Water heater replacement", taxonomy.PermitPlumbing},
		{"permit", "Misc. building permit", taxonomy.PermitIssued},
		{"", "", taxonomy.PermitIssued},
	})
}

func TestClassifyLien(t *testing.T) {
	runCases(t, "ClassifyLien", ClassifyLien, []classifyCase{
		{"lien", "Claim of Lien", taxonomy.MechanicsLien},
		{"lien", "Claim of lien - Sunset Homeowners Association", taxonomy.HOALien},
		{"lien", "Federal Tax Lien", taxonomy.FederalTaxLien},
		{"lien", "Release of Federal Tax Lien", taxonomy.LienRelease},
		{"lien", "Satisfaction of Judgment", taxonomy.LienRelease},
		{"lien", "State tax warrant", taxonomy.TaxLien},
		{"lien", "Code enforcement lien", taxonomy.CodeEnforcementLien},
		{"lien", "Certified Judgment", taxonomy.JudgmentLien},
		{"lien", "something else entirely", taxonomy.LienOther},
	})
}

func TestClassifyTaxCollector(t *testing.T) {
	runCases(t, "ClassifyTaxCollector", ClassifyTaxCollector, []classifyCase{
		{"tax_notice", "Delinquent real estate taxes", taxonomy.DelinquentTax},
		{"tax_notice", "Tax certificate sold to bidder", taxonomy.TaxCertificateSold},
		{"tax_notice", "Tax deed application filed", taxonomy.TaxDeedApplication},
		{"tax_notice", "Tax deed sale scheduled", taxonomy.TaxDeedSale},
		{"tax_notice", "Certificate redeemed", taxonomy.TaxRedeemed},
		{"tax_notice", "Installment plan for delinquent taxes", taxonomy.TaxPaymentPlan},
		{"tax_notice", "annual bill mailed", taxonomy.TaxNotice},
	})
}

func TestClassifyCodeEnforcement(t *testing.T) {
	runCases(t, "ClassifyCodeEnforcement", ClassifyCodeEnforcement, []classifyCase{
		{"case", "Notice of violation: overgrown yard", taxonomy.CodeViolation},
		{"case", "Demolition order issued", taxonomy.DemolitionOrder},
		{"case", "Structure condemned - unsafe", taxonomy.UnsafeStructure},
		{"case", "Daily fine imposed", taxonomy.CodeFineImposed},
		{"case", "Special magistrate hearing", taxonomy.CodeHearingScheduled},
		{"case", "Vacant and boarded", taxonomy.VacantProperty},
		{"case", "Violation corrected, case closed", taxonomy.CodeCaseClosed},
		{"case", "inspection note", taxonomy.CodeEnforcementOther},
	})
}

func TestClassifyCourt(t *testing.T) {
	runCases(t, "ClassifyCourt", ClassifyCourt, []classifyCase{
		{"filing", "Lis Pendens - mortgage foreclosure", taxonomy.LisPendens},
		{"filing", "Final Judgment of Foreclosure", taxonomy.ForeclosureJudgment},
		{"filing", "Notice of sale", taxonomy.ForeclosureSaleScheduled},
		{"filing", "Mortgage foreclosure complaint", taxonomy.ForeclosureFiling},
		{"filing", "Voluntary dismissal of foreclosure", taxonomy.CourtCaseClosed},
		{"filing", "In re estate of John Doe - probate", taxonomy.ProbateFiling},
		{"filing", "Dissolution of marriage", taxonomy.DivorceFiling},
		{"filing", "Chapter 13 petition", taxonomy.BankruptcyFiling},
		{"filing", "Eviction - landlord tenant", taxonomy.EvictionFiling},
		{"filing", "Small claims judgment", taxonomy.CivilJudgment},
		{"filing", "Motion to compel", taxonomy.CourtFiling},
	})
}

func TestClassifyOfficialRecord(t *testing.T) {
	runCases(t, "ClassifyOfficialRecord", ClassifyOfficialRecord, []classifyCase{
		{"SAT", "Satisfaction of Mortgage", taxonomy.MortgageSatisfaction},
		{"REL", "Release of Mortgage", taxonomy.MortgageSatisfaction},
		{"MTG", "Mortgage", taxonomy.MortgageRecorded},
		{"REL", "Release of Lis Pendens", taxonomy.LienRelease},
		{"LP", "Lis Pendens", taxonomy.LisPendens},
		{"NOD", "Notice of Default", taxonomy.NoticeOfDefault},
		{"AFF", "Affidavit of death", taxonomy.DeathRecord},
		{"LN", "Claim of lien", taxonomy.MechanicsLien},
		{"QCD", "Quit Claim Deed", taxonomy.QuitclaimDeed},
		{"D", "Deed of Trust", taxonomy.MortgageRecorded},
		{"WD", "Warranty Deed", taxonomy.DeedTransfer},
		{"POA", "Power of Attorney", taxonomy.PowerOfAttorney},
		{"MISC", "Plat", taxonomy.OfficialRecord},
	})
}

func TestClassifyPropertyAppraiser(t *testing.T) {
	runCases(t, "ClassifyPropertyAppraiser", ClassifyPropertyAppraiser, []classifyCase{
		{"owner_mailing_changed", "", taxonomy.OwnerMailingChanged},
		{"update", "Homestead exemption removed", taxonomy.HomesteadRemoved},
		{"update", "Homestead exemption granted", taxonomy.AppraiserUpdate},
		{"update", "New owner of record", taxonomy.OwnerChanged},
		{"update", "Just value changed", taxonomy.AssessedValueChanged},
		{"update", "parcel geometry split", taxonomy.AppraiserUpdate},
	})
}

func TestFallbackNeverEscalates(t *testing.T) {
	noise := []string{
		"",
		"zzz qqq",
		"lorem ipsum dolor sit amet",
		"12345",
		"###",
		"parcel 01-2345-678-9000",
	}
	for _, d := range taxonomy.Domains() {
		lowest := taxonomy.LowestSeverity(d)
		for _, text := range noise {
			key := Classify(d, "unknown_type", text)
			if got := taxonomy.SeverityFor(key); got != lowest {
				t.Fatalf("domain %s text %q -> %s severity %d, want %d", d, text, key, got, lowest)
			}
			if tier := taxonomy.TierFor(key); tier != taxonomy.TierSupport {
				t.Fatalf("domain %s text %q escalated to %s", d, text, tier)
			}
		}
	}
}

func TestFoldNormalizesSeparators(t *testing.T) {
	if got := fold("Owner_Mailing-Changed", "  A   b "); got != "owner mailing changed a b" {
		t.Fatalf("fold = %q", got)
	}
}
