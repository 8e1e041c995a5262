package schema

// Scoring weights and thresholds for the heuristic path.
const (
	MaterialsThreshold = 3.0
	BarcodeThreshold   = 3.0

	WeightMaterialsTable = 3.0
	WeightCode           = 2.5
	WeightName           = 2.5
	WeightPrice          = 1.5
	WeightVAT            = 1.0
	WeightUnit           = 0.5

	WeightBarcodeTable  = 3.0
	WeightBarcodeColumn = 2.5
	WeightBarcodeFK     = 1.0
)

// Table-name tokens, matched as substrings of the upper-cased name.
var (
	MaterialsTableTokens = []string{"MATER", "ITEM", "PRODUCT", "GOOD"}
	BarcodeTableTokens   = []string{"BARC"}
)

// Column patterns used for scoring. Order does not matter for scoring.
var (
	CodeScorePatterns  = []string{"CODE", "ART", "ARTIC", "SKU", "INTERNALCODE", "NOMER", "NUMBER"}
	NameScorePatterns  = []string{"NAME", "MATERIAL", "DESCR", "TITLE", "FULLNAME"}
	PriceScorePatterns = []string{"PRICE", "CENA", "VALUE", "COST", "LASTPRICE", "SALEPRICE", "PURCHASEPRICE"}
	VATScorePatterns   = []string{"VAT", "DDS", "TAX", "TAXRATE"}
	UnitScorePatterns  = []string{"UNIT", "MEASURE", "MEAS", "UOM", "EDIN", "EDIZM"}

	BarcodeColumnScorePatterns = []string{"BARCODE", "EAN", "EAN13", "UPC", "CODE"}
	BarcodeFKScorePatterns     = []string{"MATERIAL", "ITEM", "GOOD", "PRODUCT", "MAT", "ID"}
)

// Column role patterns. The first entry matching a real column wins, exact
// matches before substring matches.
var (
	CodeRolePatterns  = []string{"CODE", "MATERIALCODE", "ARTIC", "ARTICLE", "ARTNOMER", "INTERNALCODE", "NOMER", "SKU", "NUMBER"}
	NameRolePatterns  = []string{"NAME", "MATERIAL", "DESCR", "DESCRIPTION", "SEARCHNAME", "FULLNAME", "TITLE"}
	UnitRolePatterns  = []string{"UOM", "MEASURE", "MEASUREUNIT", "UNIT", "EDIN", "EDIZM"}
	PriceRolePatterns = []string{"PRICE", "LASTPRICE", "LASTDELIVERYPRICE", "SALEPRICE", "DELIVERYPRICE", "PURCHASEPRICE"}
	VATRolePatterns   = []string{"VAT", "DDS", "TAX", "TAXRATE", "TAXPERCENTAGE", "DDSPROC"}

	BarcodeColumnRolePatterns = []string{"BARCODE", "EAN", "EAN13", "CODE", "UPC"}
	BarcodeFKRolePatterns     = []string{"FK_STORAGEMATERIALCODE", "STORAGEMATERIALCODE", "MATERIALCODE", "MATERIAL", "MATERIALID", "IDMATERIAL", "MAT", "ITEM", "ITEMID", "GOOD", "PRODUCT"}
)

// Exact-schema contract.
const (
	ExactMaterialsTable = "MATERIAL"
	ExactMaterialsCode  = "MATERIALCODE"
	ExactMaterialsName  = "MATERIAL"
	ExactBarcodeTable   = "BARCODE"
)

var (
	ExactBarcodeCodeColumns = []string{"CODE", "BARCODE", "EAN", "EAN13"}
	ExactBarcodeFKColumns   = []string{"FK_STORAGEMATERIALCODE", "STORAGEMATERIALCODE"}
)
