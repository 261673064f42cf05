package parser

// Field locations for the IRS e-file schemas. Every logical field carries an
// ordered list of element paths, most recent schema era first; the first
// location with a non-empty value wins. Schema drift across filing years is
// absorbed here, not in parsing logic, so new locations are a data change.
//
// Paths are relative to the document's Return element, with namespaces
// already stripped.

var headerPaths = struct {
	EIN      []string
	Name     []string
	City     []string
	State    []string
	TaxYear  []string
	FormType []string
}{
	EIN: []string{
		"ReturnHeader/Filer/EIN",
		"ReturnHeader/Filer/EINNumber",
	},
	Name: []string{
		"ReturnHeader/Filer/BusinessName/BusinessNameLine1Txt",
		"ReturnHeader/Filer/BusinessName/BusinessNameLine1",
		"ReturnHeader/Filer/Name/BusinessNameLine1",
	},
	City: []string{
		"ReturnHeader/Filer/USAddress/CityNm",
		"ReturnHeader/Filer/USAddress/City",
	},
	State: []string{
		"ReturnHeader/Filer/USAddress/StateAbbreviationCd",
		"ReturnHeader/Filer/USAddress/State",
	},
	TaxYear: []string{
		"ReturnHeader/TaxYr",
		"ReturnHeader/TaxYear",
	},
	FormType: []string{
		"ReturnHeader/ReturnTypeCd",
		"ReturnHeader/ReturnType",
	},
}

// financialPaths maps each optional financial field to its ordered
// candidate locations. A nil list means the form does not report the field.
type financialPaths struct {
	TotalRevenue           []string
	TotalExpenses          []string
	NetAssets              []string
	ContributionsAndGrants []string
	ProgramServiceRevenue  []string
	InvestmentIncome       []string
	ProgramExpenses        []string
	ManagementExpenses     []string
	FundraisingExpenses    []string
	NumEmployees           []string
	NumVolunteers          []string
	MissionDescription     []string
}

var formFieldMaps = map[string]financialPaths{
	"990": {
		TotalRevenue: []string{
			"ReturnData/IRS990/CYTotalRevenueAmt",
			"ReturnData/IRS990/TotalRevenueCurrentYear",
			"ReturnData/IRS990/Revenue/TotalRevenueColumnA",
		},
		TotalExpenses: []string{
			"ReturnData/IRS990/CYTotalExpensesAmt",
			"ReturnData/IRS990/TotalExpensesCurrentYear",
		},
		NetAssets: []string{
			"ReturnData/IRS990/NetAssetsOrFundBalancesEOYAmt",
			"ReturnData/IRS990/NetAssetsOrFundBalancesBOY",
			"ReturnData/IRS990/TotalNetAssetsFundBalances/EOY",
		},
		ContributionsAndGrants: []string{
			"ReturnData/IRS990/CYContributionsGrantsAmt",
			"ReturnData/IRS990/ContributionsGrantsCurrentYear",
		},
		ProgramServiceRevenue: []string{
			"ReturnData/IRS990/CYProgramServiceRevenueAmt",
			"ReturnData/IRS990/ProgramServiceRevenueCY",
		},
		InvestmentIncome: []string{
			"ReturnData/IRS990/CYInvestmentIncomeAmt",
			"ReturnData/IRS990/InvestmentIncomeCurrentYear",
		},
		ProgramExpenses: []string{
			"ReturnData/IRS990/CYTotalProgramServiceExpenseAmt",
			"ReturnData/IRS990/TotalProgramServiceExpense",
		},
		ManagementExpenses: []string{
			"ReturnData/IRS990/CYManagementAndGeneralAmt",
			"ReturnData/IRS990/ManagementAndGeneralAmt",
		},
		FundraisingExpenses: []string{
			"ReturnData/IRS990/CYTotalFundraisingExpenseAmt",
			"ReturnData/IRS990/TotalFundraisingExpense",
			"ReturnData/IRS990/FundraisingAmt",
		},
		NumEmployees: []string{
			"ReturnData/IRS990/TotalEmployeeCnt",
			"ReturnData/IRS990/TotalNbrEmployees",
		},
		NumVolunteers: []string{
			"ReturnData/IRS990/TotalVolunteersCnt",
			"ReturnData/IRS990/TotalNbrVolunteers",
		},
		MissionDescription: []string{
			"ReturnData/IRS990/ActivityOrMissionDesc",
			"ReturnData/IRS990/ActivityOrMissionDescription",
			"ReturnData/IRS990/MissionDescription",
		},
	},
	"990EZ": {
		TotalRevenue: []string{
			"ReturnData/IRS990EZ/TotalRevenueAmt",
			"ReturnData/IRS990EZ/TotalRevenue",
		},
		TotalExpenses: []string{
			"ReturnData/IRS990EZ/TotalExpensesAmt",
			"ReturnData/IRS990EZ/TotalExpenses",
		},
		NetAssets: []string{
			"ReturnData/IRS990EZ/NetAssetsOrFundBalancesEOYAmt",
			"ReturnData/IRS990EZ/NetAssetsOrFundBalances/EOY",
		},
		ContributionsAndGrants: []string{
			"ReturnData/IRS990EZ/ContributionsGiftsGrantsEtcAmt",
			"ReturnData/IRS990EZ/ContributionsGiftsGrantsEtc",
		},
		ProgramServiceRevenue: []string{
			"ReturnData/IRS990EZ/ProgramServiceRevenueAmt",
			"ReturnData/IRS990EZ/ProgramServiceRevenue",
		},
		InvestmentIncome: []string{
			"ReturnData/IRS990EZ/InvestmentIncomeAmt",
			"ReturnData/IRS990EZ/InvestmentIncome",
		},
	},
	"990PF": {
		TotalRevenue: []string{
			"ReturnData/IRS990PF/TotalRevAndExpnssAmt",
			"ReturnData/IRS990PF/TotalRevenueAndExpenses/RevenueAndExpensesPerBks",
			"ReturnData/IRS990PF/AnalysisOfRevenueAndExpenses/TotalRevAndExpnssAmt",
		},
		TotalExpenses: []string{
			"ReturnData/IRS990PF/TotalExpensesRevAndExpnssAmt",
			"ReturnData/IRS990PF/AnalysisOfRevenueAndExpenses/TotalExpensesRevAndExpnssAmt",
		},
		NetAssets: []string{
			"ReturnData/IRS990PF/TotNetAstOrFundBalancesEOYAmt",
			"ReturnData/IRS990PF/TotalNetAssetsFundBalances/EOY",
		},
		ContributionsAndGrants: []string{
			"ReturnData/IRS990PF/ContriRcvdRevAndExpnssAmt",
			"ReturnData/IRS990PF/AnalysisOfRevenueAndExpenses/ContriRcvdRevAndExpnssAmt",
		},
		InvestmentIncome: []string{
			"ReturnData/IRS990PF/InvstIncmRevAndExpnssAmt",
			"ReturnData/IRS990PF/AnalysisOfRevenueAndExpenses/InvstIncmRevAndExpnssAmt",
		},
	},
}

// fieldMapFor selects the financial field map for a form type; unknown or
// absent types read with the 990 map.
func fieldMapFor(formType string) financialPaths {
	if m, ok := formFieldMaps[formType]; ok {
		return m
	}
	return formFieldMaps["990"]
}

// personPaths locates the Part VII compensation table on a 990. The
// container lists are alternatives, not unioned: the first location that
// matches anything is the only one read.
var personPaths = struct {
	Container            []string
	Name                 []string
	Title                []string
	Compensation         []string
	IsOfficer            []string
	IsDirector           []string
	IsKeyEmployee        []string
	IsHighestCompensated []string
}{
	Container: []string{
		"ReturnData/IRS990/Form990PartVIISectionAGrp",
		"ReturnData/IRS990/Form990PartVIISectionA",
	},
	Name:         []string{"PersonNm", "PersonName/PersonFirstName"},
	Title:        []string{"TitleTxt", "Title"},
	Compensation: []string{"ReportableCompFromOrgAmt", "ReportableCompensationAmt", "Compensation"},
	IsOfficer:    []string{"OfficerInd", "Officer"},
	IsDirector:   []string{"IndividualTrusteeOrDirectorInd", "IndividualTrusteeOrDirector"},
	IsKeyEmployee: []string{
		"KeyEmployeeInd",
		"KeyEmployee",
	},
	IsHighestCompensated: []string{
		"HighestCompensatedEmployeeInd",
		"HighestCompensatedEmployee",
	},
}

// grantPaths locates the grants-paid schedule on a 990-PF.
var grantPaths = struct {
	Container      []string
	RecipientName  []string
	RecipientCity  []string
	RecipientState []string
	Amount         []string
	Purpose        []string
}{
	Container: []string{
		"ReturnData/IRS990PF/SupplementaryInformationGrp/GrantOrContributionPdDurYrGrp",
		"ReturnData/IRS990PF/SupplementaryInformation/GrantOrContributionPdDurYr",
	},
	RecipientName: []string{
		"RecipientPersonNm",
		"RecipientBusinessName/BusinessNameLine1Txt",
		"RecipientBusinessName/BusinessNameLine1",
	},
	RecipientCity:  []string{"RecipientUSAddress/CityNm", "RecipientUSAddress/City"},
	RecipientState: []string{"RecipientUSAddress/StateAbbreviationCd", "RecipientUSAddress/State"},
	Amount:         []string{"Amt", "Amount"},
	Purpose:        []string{"GrantOrContributionPurposeTxt", "PurposeOfGrantOrContribution"},
}

// truthyTokens are the values the e-file schemas use for checkbox fields.
var truthyTokens = map[string]bool{
	"X":    true,
	"1":    true,
	"TRUE": true,
	"YES":  true,
}
