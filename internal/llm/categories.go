package llm

// Category is one node in the question classification tree. A category
// either names a tool to run or carries subcategories for a second
// classification pass.
type Category struct {
	Name        string
	Description string
	Tool        string
	Subclasses  []Category
}

// names returns the category names at this level, in order.
func names(cats []Category) []string {
	out := make([]string, len(cats))
	for i, c := range cats {
		out[i] = c.Name
	}
	return out
}

// find returns the category with the given name, or nil.
func find(cats []Category, name string) *Category {
	for i := range cats {
		if cats[i].Name == name {
			return &cats[i]
		}
	}
	return nil
}

// Tools the orchestrator switches on.
const (
	ToolContinueSession = "continue_session"
	ToolResetPassword   = "reset_password_question"
	ToolAccountStatus   = "account_status_question"
	ToolEndSession      = "end_session"
)

// DefaultCategoryTree returns the question classes the support bot handles.
func DefaultCategoryTree() []Category {
	return []Category{
		{
			Name:        "continue_session",
			Description: "Choose this class if the user want to continue the chat session.",
			Tool:        ToolContinueSession,
		},
		{
			Name:        "reset_password_question",
			Description: "Choose this class if the user ask how to reset their account password or they forgot the password.",
			Tool:        ToolResetPassword,
		},
		{
			Name:        "account_status_question",
			Description: "Choose this class if the user ask about their account status or account license expiration",
			Tool:        ToolAccountStatus,
		},
		{
			Name:        "end_session",
			Description: "Choose this class if the user want to end the chat session.",
			Tool:        ToolEndSession,
		},
	}
}
