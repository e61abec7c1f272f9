package buttons

const (
	Treasury    = "💰 Treasury"
	Liabilities = "📊 Liabilities"
	OpenGaps    = "⚠️ Open gaps"
)

var Menu = []string{Treasury, Liabilities, OpenGaps}
