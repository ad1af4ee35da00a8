package types

// FieldType 字段取值类型
type FieldType int

const (
	FieldString     FieldType = iota // 字符串，缺省 ""
	FieldInt                         // 非负整数，缺省 0
	FieldScore                       // 0-10 整数评分
	FieldDecimal                     // 非负小数，缺省 0
	FieldYesNo                       // 枚举 {Yes, No}，缺省 ""
	FieldMilitary                    // 枚举 {Finished, Exempt, Unknown}，缺省 ""
	FieldStringList                  // 字符串列表，缺省 []
	FieldBool                        // 布尔，缺省 false
)

// 枚举取值
const (
	Yes = "Yes"
	No  = "No"

	MilitaryFinished = "Finished"
	MilitaryExempt   = "Exempt"
	MilitaryUnknown  = "Unknown"
)

// FieldSpec 描述字段模式中的一个键
type FieldSpec struct {
	Key     string    // JSON 键名
	Type    FieldType // 取值类型
	Header  string    // 带分类前缀的列名
	Section string    // 所属分类，用于 markdown 解析
	Aliases []string  // markdown 输出中可能出现的字段名
}

// CandidateSchema 候选人简历字段模式，顺序即CSV列顺序
var CandidateSchema = []FieldSpec{
	{Key: "first_name", Type: FieldString, Header: "PersonalInformation_FirstName", Section: "personal information", Aliases: []string{"first name"}},
	{Key: "last_name", Type: FieldString, Header: "PersonalInformation_LastName", Section: "personal information", Aliases: []string{"last name"}},
	{Key: "full_name", Type: FieldString, Header: "PersonalInformation_FullName", Section: "personal information", Aliases: []string{"full name", "name"}},
	{Key: "email", Type: FieldString, Header: "PersonalInformation_Email", Section: "personal information", Aliases: []string{"email", "email address"}},
	{Key: "phone", Type: FieldString, Header: "PersonalInformation_Phone", Section: "personal information", Aliases: []string{"phone", "phone number"}},

	{Key: "misspelling_count", Type: FieldInt, Header: "Professionalism_MisspellingCount", Section: "professionalism", Aliases: []string{"misspelling count"}},
	{Key: "misspelled_words", Type: FieldString, Header: "Professionalism_MisspelledWords", Section: "professionalism", Aliases: []string{"misspelled words", "list of misspelled words"}},
	{Key: "visual_cleanliness", Type: FieldScore, Header: "Professionalism_VisualCleanliness", Section: "professionalism", Aliases: []string{"visual cleanliness"}},
	{Key: "professional_look", Type: FieldScore, Header: "Professionalism_ProfessionalLook", Section: "professionalism", Aliases: []string{"professional look"}},
	{Key: "formatting_consistency", Type: FieldScore, Header: "Professionalism_FormattingConsistency", Section: "professionalism", Aliases: []string{"formatting consistency", "formatting"}},

	{Key: "years_since_graduation", Type: FieldInt, Header: "Experience_YearsSinceGraduation", Section: "experience", Aliases: []string{"years since graduation"}},
	{Key: "total_years_experience", Type: FieldInt, Header: "Experience_TotalYearsExperience", Section: "experience", Aliases: []string{"total years of experience", "years of experience", "total years experience"}},
	{Key: "employer_names", Type: FieldString, Header: "Experience_EmployerNames", Section: "experience", Aliases: []string{"employer names", "list of employer names", "employers"}},

	{Key: "employers_count", Type: FieldInt, Header: "Stability_EmployersCount", Section: "stability", Aliases: []string{"number of employers", "employers count"}},
	{Key: "avg_years_per_employer", Type: FieldDecimal, Header: "Stability_AvgYearsPerEmployer", Section: "stability", Aliases: []string{"average number of years per employer", "average tenure per employer", "avg years per employer"}},
	{Key: "years_at_current_employer", Type: FieldDecimal, Header: "Stability_YearsAtCurrentEmployer", Section: "stability", Aliases: []string{"number of years at the current last employer", "years at current employer"}},

	{Key: "address", Type: FieldString, Header: "SocioeconomicStandard_Address", Section: "socioeconomic standard", Aliases: []string{"address"}},
	{Key: "alma_mater", Type: FieldString, Header: "SocioeconomicStandard_AlmaMater", Section: "socioeconomic standard", Aliases: []string{"alma mater", "university"}},
	{Key: "high_school", Type: FieldString, Header: "SocioeconomicStandard_HighSchool", Section: "socioeconomic standard", Aliases: []string{"high school"}},
	{Key: "education_system", Type: FieldString, Header: "SocioeconomicStandard_EducationSystem", Section: "socioeconomic standard", Aliases: []string{"education system"}},
	{Key: "second_foreign_language", Type: FieldString, Header: "SocioeconomicStandard_SecondForeignLanguage", Section: "socioeconomic standard", Aliases: []string{"second foreign language"}},

	{Key: "flag_stem_degree", Type: FieldYesNo, Header: "Flags_FlagSTEMDegree", Section: "flags", Aliases: []string{"stem", "stem degree"}},
	{Key: "military_service_status", Type: FieldMilitary, Header: "Flags_MilitaryServiceStatus", Section: "flags", Aliases: []string{"military service", "military service status"}},
	{Key: "worked_at_financial_institution", Type: FieldYesNo, Header: "Flags_WorkedAtFinancialInstitution", Section: "flags", Aliases: []string{"worked at financial institution", "worked for a financial institution previously", "financial institution experience"}},
	{Key: "worked_for_egyptian_government", Type: FieldYesNo, Header: "Flags_WorkedForEgyptianGovernment", Section: "flags", Aliases: []string{"worked for egyptian government", "worked for the egyptian government previously", "government experience"}},
}

// RoleSchema 岗位描述字段模式
var RoleSchema = []FieldSpec{
	{Key: "role_title", Type: FieldString, Header: "Role_RoleTitle", Section: "role", Aliases: []string{"role title", "role"}},
	{Key: "job_title", Type: FieldString, Header: "Role_JobTitle", Section: "role", Aliases: []string{"job title", "title"}},
	{Key: "employer", Type: FieldString, Header: "Role_Employer", Section: "role", Aliases: []string{"employer", "company"}},
	{Key: "job_location", Type: FieldString, Header: "Role_JobLocation", Section: "role", Aliases: []string{"job location", "location"}},
	{Key: "min_must_have_degree", Type: FieldString, Header: "Requirements_MinMustHaveDegree", Section: "requirements", Aliases: []string{"minimum degree", "min must have degree"}},
	{Key: "min_years_experience", Type: FieldInt, Header: "Requirements_MinYearsExperience", Section: "requirements", Aliases: []string{"minimum years of experience", "min years experience"}},
	{Key: "language_requirement", Type: FieldStringList, Header: "Requirements_LanguageRequirement", Section: "requirements", Aliases: []string{"language requirement", "languages"}},
	{Key: "must_have_skills", Type: FieldStringList, Header: "Skills_MustHave", Section: "skills", Aliases: []string{"must have skills", "must have"}},
	{Key: "should_have_skills", Type: FieldStringList, Header: "Skills_ShouldHave", Section: "skills", Aliases: []string{"should have skills", "should have"}},
	{Key: "nice_to_have_skills", Type: FieldStringList, Header: "Skills_NiceToHave", Section: "skills", Aliases: []string{"nice to have skills", "nice to have"}},
	{Key: "preferred_universities", Type: FieldStringList, Header: "Requirements_PreferredUniversities", Section: "requirements", Aliases: []string{"preferred universities"}},
	{Key: "responsibilities", Type: FieldStringList, Header: "Role_Responsibilities", Section: "role", Aliases: []string{"responsibilities"}},
	{Key: "technical_qualifications", Type: FieldStringList, Header: "Requirements_TechnicalQualifications", Section: "requirements", Aliases: []string{"technical qualifications"}},
	{Key: "non_technical_qualifications", Type: FieldStringList, Header: "Requirements_NonTechnicalQualifications", Section: "requirements", Aliases: []string{"non technical qualifications"}},
	{Key: "onsite_requirement_percentage", Type: FieldDecimal, Header: "Workplace_OnsiteRequirementPercentage", Section: "workplace", Aliases: []string{"onsite requirement percentage", "onsite percentage"}},
	{Key: "onsite_requirement_mandatory", Type: FieldBool, Header: "Workplace_OnsiteRequirementMandatory", Section: "workplace", Aliases: []string{"onsite requirement mandatory", "onsite mandatory"}},
	{Key: "serves_government", Type: FieldBool, Header: "Flags_ServesGovernment", Section: "flags", Aliases: []string{"serves government"}},
	{Key: "serves_financial_institution", Type: FieldBool, Header: "Flags_ServesFinancialInstitution", Section: "flags", Aliases: []string{"serves financial institution"}},
}

// SchemaFor 返回文档类型对应的字段模式
func SchemaFor(kind DocumentKind) []FieldSpec {
	if kind == KindRole {
		return RoleSchema
	}
	return CandidateSchema
}

// CandidateFields 候选人简历抽取结果
type CandidateFields struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	FullName  string `json:"full_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`

	MisspellingCount      int    `json:"misspelling_count"`
	MisspelledWords       string `json:"misspelled_words"`
	VisualCleanliness     int    `json:"visual_cleanliness"`
	ProfessionalLook      int    `json:"professional_look"`
	FormattingConsistency int    `json:"formatting_consistency"`

	YearsSinceGraduation int    `json:"years_since_graduation"`
	TotalYearsExperience int    `json:"total_years_experience"`
	EmployerNames        string `json:"employer_names"`

	EmployersCount         int     `json:"employers_count"`
	AvgYearsPerEmployer    float64 `json:"avg_years_per_employer"`
	YearsAtCurrentEmployer float64 `json:"years_at_current_employer"`

	Address               string `json:"address"`
	AlmaMater             string `json:"alma_mater"`
	HighSchool            string `json:"high_school"`
	EducationSystem       string `json:"education_system"`
	SecondForeignLanguage string `json:"second_foreign_language"`

	FlagSTEMDegree               string `json:"flag_stem_degree"`
	MilitaryServiceStatus        string `json:"military_service_status"`
	WorkedAtFinancialInstitution string `json:"worked_at_financial_institution"`
	WorkedForEgyptianGovernment  string `json:"worked_for_egyptian_government"`
}

// RoleFields 岗位描述抽取结果
type RoleFields struct {
	RoleTitle                   string   `json:"role_title"`
	JobTitle                    string   `json:"job_title"`
	Employer                    string   `json:"employer"`
	JobLocation                 string   `json:"job_location"`
	MinMustHaveDegree           string   `json:"min_must_have_degree"`
	MinYearsExperience          int      `json:"min_years_experience"`
	LanguageRequirement         []string `json:"language_requirement"`
	MustHaveSkills              []string `json:"must_have_skills"`
	ShouldHaveSkills            []string `json:"should_have_skills"`
	NiceToHaveSkills            []string `json:"nice_to_have_skills"`
	PreferredUniversities       []string `json:"preferred_universities"`
	Responsibilities            []string `json:"responsibilities"`
	TechnicalQualifications     []string `json:"technical_qualifications"`
	NonTechnicalQualifications  []string `json:"non_technical_qualifications"`
	OnsiteRequirementPercentage float64  `json:"onsite_requirement_percentage"`
	OnsiteRequirementMandatory  bool     `json:"onsite_requirement_mandatory"`
	ServesGovernment            bool     `json:"serves_government"`
	ServesFinancialInstitution  bool     `json:"serves_financial_institution"`
}
