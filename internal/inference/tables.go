package inference

// Keyword tables are matched against the lower-cased question. Table order
// breaks ties between equally scored entries.

type entry struct {
	name     string
	patterns []string
}

var categoryTable = []entry{
	{"cardiovascular", []string{
		`\bblood\s*pressure\b`,
		`\bbp\b`,
		`\bhypertension\b`,
		`\bhypotension\b`,
		`\bsystolic\b`,
		`\bdiastolic\b`,
		`\bmmhg\b`,
		`\b\d{2,3}\s*/\s*\d{2,3}\b`,
		`\bheart\b`,
		`\bcardiac\b`,
		`\bcardio\b`,
		`\barrhythmia\b`,
		`\batrial\s*fib`,
		`\bafib\b`,
		`\bchf\b`,
		`\bheart\s*failure\b`,
		`\bcad\b`,
		`\bcoronary\b`,
		`\bangina\b`,
		`\bmyocardial\b`,
		`\bmi\b`,
		`\bheart\s*attack\b`,
		`\bstroke\b`,
		`\bcvd\b`,
		`\bpalpitations?\b`,
		`\bmurmur\b`,
		`\bvalve\b`,
	}},
	{"metabolic", []string{
		`\bcholesterol\b`,
		`\bldl\b`,
		`\bhdl\b`,
		`\btriglycerides?\b`,
		`\blipids?\b`,
		`\bstatins?\b`,
		`\bhyperlipidemia\b`,
		`\bdyslipidemia\b`,
		`\bbmi\b`,
		`\bbody\s*mass\b`,
		`\bobes`,
		`\boverweight\b`,
		`\bunderweight\b`,
		`\bweight\b`,
		`\bheight\b`,
		`\bkg\b`,
		`\blbs?\b`,
		`\bpounds?\b`,
		`\bast\b`,
		`\balt\b`,
		`\bliver\s*function\b`,
		`\blft\b`,
		`\bhepatic\b`,
		`\bfatty\s*liver\b`,
		`\bcirrhosis\b`,
		`\bhepatitis\b`,
	}},
	{"endocrine", []string{
		`\bdiabetes\b`,
		`\bdiabetic\b`,
		`\bglucose\b`,
		`\bblood\s*sugar\b`,
		`\binsulin\b`,
		`\bhba1c\b`,
		`\ba1c\b`,
		`\bfasting\s*(blood\s*)?sugar\b`,
		`\bfbs\b`,
		`\btype\s*[12]\b`,
		`\bt[12]dm\b`,
		`\bhyperglycemia\b`,
		`\bhypoglycemia\b`,
		`\bmetformin\b`,
		`\bthyroid\b`,
		`\btsh\b`,
		`\bhypothyroid`,
		`\bhyperthyroid`,
		`\blevothyroxine\b`,
		`\bsynthroid\b`,
	}},
	{"family_history", []string{
		`\bfamily\s*history\b`,
		`\bfamilial\b`,
		`\bhereditary\b`,
		`\bgenetic\b`,
		`\binherited\b`,
		`\bparents?\b`,
		`\bmother\b`,
		`\bfather\b`,
		`\bsiblings?\b`,
		`\bbrother\b`,
		`\bsister\b`,
		`\bgrandparents?\b`,
		`\brelatives?\b`,
		`\bpremature\s*death\b`,
		`\bcancer\s*(history|risk)\b`,
		`\bheart\s*disease\s*(family|history)\b`,
	}},
	{"lifestyle", []string{
		`\bsmok`,
		`\btobacco\b`,
		`\bcigarettes?\b`,
		`\bnicotine\b`,
		`\bvap(e|ing)\b`,
		`\bpack\s*years?\b`,
		`\bnon-?smoker\b`,
		`\bex-?smoker\b`,
		`\balcohol\b`,
		`\bdrink`,
		`\bbeer\b`,
		`\bwine\b`,
		`\bspirits\b`,
		`\bunits?\s*(per|/)\s*(week|day)\b`,
		`\bsober\b`,
		`\babstinent\b`,
		`\bdrug\s*use\b`,
		`\bsubstance\b`,
		`\bmarijuana\b`,
		`\bcannabis\b`,
		`\bcocaine\b`,
		`\bheroin\b`,
		`\bopioids?\b`,
		`\brecreational\b`,
	}},
}

var subcategoryTable = map[string][]entry{
	"cardiovascular": {
		{"hypertension", []string{
			`\bblood\s*pressure\b`,
			`\bhypertension\b`,
			`\bsystolic\b`,
			`\bdiastolic\b`,
			`\b\d{2,3}\s*/\s*\d{2,3}\b`,
		}},
		{"arrhythmia", []string{
			`\barrhythmia\b`,
			`\batrial\s*fib`,
			`\bafib\b`,
			`\bpalpitations?\b`,
		}},
		{"coronary_artery_disease", []string{
			`\bcad\b`,
			`\bcoronary\b`,
			`\bangina\b`,
			`\bheart\s*attack\b`,
		}},
	},
	"metabolic": {
		{"cholesterol", []string{
			`\bcholesterol\b`,
			`\bldl\b`,
			`\bhdl\b`,
			`\btriglycerides?\b`,
			`\blipids?\b`,
		}},
		{"bmi", []string{
			`\bbmi\b`,
			`\bbody\s*mass\b`,
			`\bobes`,
			`\boverweight\b`,
			`\bweight\b`,
		}},
		{"liver_function", []string{
			`\bast\b`,
			`\balt\b`,
			`\bliver\b`,
			`\blft\b`,
		}},
	},
	"endocrine": {
		{"diabetes", []string{
			`\bdiabetes\b`,
			`\bdiabetic\b`,
			`\bglucose\b`,
			`\bhba1c\b`,
			`\binsulin\b`,
		}},
		{"thyroid", []string{
			`\bthyroid\b`,
			`\btsh\b`,
		}},
	},
	"lifestyle": {
		{"smoking", []string{
			`\bsmok`,
			`\btobacco\b`,
			`\bcigarettes?\b`,
			`\bnicotine\b`,
		}},
		{"alcohol", []string{
			`\balcohol\b`,
			`\bdrink`,
			`\bbeer\b`,
			`\bwine\b`,
		}},
		{"substance_use", []string{
			`\bdrug\s*use\b`,
			`\bsubstance\b`,
			`\bmarijuana\b`,
		}},
	},
}

var riskTable = []entry{
	{"High", []string{
		`\bsevere\b`,
		`\bcritical\b`,
		`\bdangerous\b`,
		`\bextreme\b`,
		`\buncontrolled\b`,
		`\bpoor\s*control\b`,
		`\bcomplications?\b`,
		`\bhospitali[sz]ed?\b`,
	}},
	{"Moderate", []string{
		`\bmoderate\b`,
		`\belevated\b`,
		`\bborderline\b`,
		`\bmedication\b`,
		`\btreatment\b`,
	}},
	{"Low", []string{
		`\bnormal\b`,
		`\bhealthy\b`,
		`\boptimal\b`,
		`\bwell\s*controlled\b`,
		`\bno\s*(issues?|problems?|concerns?)\b`,
	}},
}
