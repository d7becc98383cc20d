package catalog

var defaultRoles = []Role{
	{Keywords: []string{"android"}, Title: "Android Developer", Skills: []string{"Android", "Kotlin", "Java"}},
	{Keywords: []string{"ios", "swift developer"}, Title: "iOS Developer", Skills: []string{"iOS", "Swift", "Objective-C"}},
	{Keywords: []string{"frontend", "front end", "front-end"}, Title: "Frontend Developer", Skills: []string{"JavaScript", "React", "HTML", "CSS"}},
	{Keywords: []string{"backend", "back end", "back-end"}, Title: "Backend Developer", Skills: []string{"Node.js", "Python", "Java", "SQL"}},
	{Keywords: []string{"full stack", "fullstack", "full-stack"}, Title: "Full Stack Developer", Skills: []string{"JavaScript", "React", "Node.js", "MongoDB"}},
	{Keywords: []string{"data scientist", "data science"}, Title: "Data Scientist", Skills: []string{"Python", "Machine Learning", "SQL", "Statistics"}},
	{Keywords: []string{"data analyst", "data analytics"}, Title: "Data Analyst", Skills: []string{"SQL", "Excel", "Python", "Tableau"}},
	{Keywords: []string{"devops", "sre", "site reliability"}, Title: "DevOps Engineer", Skills: []string{"AWS", "Docker", "Kubernetes", "CI/CD"}},
	{Keywords: []string{"machine learning", "ml engineer", "ai engineer"}, Title: "Machine Learning Engineer", Skills: []string{"Python", "TensorFlow", "PyTorch", "Machine Learning"}},
	{Keywords: []string{"python"}, Title: "Python Developer", Skills: []string{"Python", "Django", "Flask"}},
	{Keywords: []string{"java"}, Title: "Java Developer", Skills: []string{"Java", "Spring Boot", "SQL"}},
	{Keywords: []string{"react"}, Title: "React Developer", Skills: []string{"React", "JavaScript", "TypeScript"}},
	{Keywords: []string{"flutter"}, Title: "Flutter Developer", Skills: []string{"Flutter", "Dart"}},
	{Keywords: []string{"product manager", "product management"}, Title: "Product Manager", Skills: []string{"Product Management", "Agile", "Analytics"}},
	{Keywords: []string{"ui/ux", "ux designer", "ui designer", "designer"}, Title: "UI/UX Designer", Skills: []string{"Figma", "UI Design", "UX Research"}},
}

var defaultSkills = []string{
	"Android", "Kotlin", "Java", "Swift", "iOS", "Objective-C", "Flutter", "Dart",
	"JavaScript", "TypeScript", "React", "Angular", "Vue", "HTML", "CSS",
	"Node.js", "Express", "Python", "Django", "Flask", "Golang", "Rust", "C++", "C#",
	"Spring Boot", "SQL", "MySQL", "PostgreSQL", "MongoDB", "Redis",
	"AWS", "Azure", "GCP", "Docker", "Kubernetes", "CI/CD", "Terraform", "Linux",
	"Machine Learning", "Deep Learning", "TensorFlow", "PyTorch", "NLP", "Statistics",
	"Excel", "Tableau", "Power BI", "Figma", "Agile",
}

var defaultCities = []City{
	{Name: "Mumbai", Aliases: []string{"bombay"}},
	{Name: "Delhi"},
	{Name: "New Delhi"},
	{Name: "Bangalore", Aliases: []string{"bengaluru"}},
	{Name: "Hyderabad"},
	{Name: "Chennai"},
	{Name: "Pune"},
	{Name: "Kolkata"},
	{Name: "Noida"},
	{Name: "Gurgaon", Aliases: []string{"gurugram"}},
	{Name: "Ahmedabad"},
	{Name: "Jaipur"},
}

// Default returns the built-in catalog.
func Default() *Catalog {
	return New(defaultRoles, defaultSkills, defaultCities)
}
