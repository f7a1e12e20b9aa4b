package backend

// Role of a CRM user.
type Role string

const (
	RoleAdmin Role = "ADMIN"
	RoleAgent Role = "AGENT"
)

type User struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	Role         Role   `json:"role"`
	Avatar       string `json:"avatar,omitempty"`
	Department   string `json:"department,omitempty"`
	Status       string `json:"status,omitempty"`
	Availability string `json:"availability,omitempty"`
	SIPExtension string `json:"sipExtension,omitempty"`
	SIPPassword  string `json:"sipPassword,omitempty"`
	Password     string `json:"password,omitempty"`
}

type Customer struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Phone           string            `json:"phone"`
	Email           string            `json:"email,omitempty"`
	Source          string            `json:"source,omitempty"`
	Notes           string            `json:"notes,omitempty"`
	AssignedAgentID string            `json:"assignedAgentId,omitempty"`
	LastCallStatus  string            `json:"lastCallStatus,omitempty"`
	LastCallDate    string            `json:"lastCallDate,omitempty"`
	ContactCount    int               `json:"contactCount"`
	IsHidden        bool              `json:"isHidden,omitempty"`
	Operator        string            `json:"operator,omitempty"`
	ContractEndDate string            `json:"contractEndDate,omitempty"`
	CreatedAt       string            `json:"createdAt,omitempty"`
	CustomFields    map[string]string `json:"customFields,omitempty"`
}

// BulkAction is applied by POST /customers/bulk.
type BulkAction string

const (
	BulkHide       BulkAction = "hide"
	BulkTransfer   BulkAction = "transfer"
	BulkDistribute BulkAction = "distribute"
)

// BulkRequest is the body of POST /customers/bulk. TargetAgentID is a single
// agent id for transfer and a list of ids for distribute.
type BulkRequest struct {
	IDs                []string   `json:"ids"`
	Action             BulkAction `json:"action"`
	TargetAgentID      any        `json:"targetAgentId,omitempty"`
	DistributionMethod string     `json:"distributionMethod,omitempty"`
}

// CallStatus is the outcome of a logged call.
type CallStatus string

const (
	CallAnswered CallStatus = "ANSWERED"
	CallNoAnswer CallStatus = "NO_ANSWER"
	CallMissed   CallStatus = "MISSED"
)

// CallDirection tells inbound and outbound calls apart.
type CallDirection string

const (
	Inbound  CallDirection = "INBOUND"
	Outbound CallDirection = "OUTBOUND"
)

// CallLog is the body of POST /calls.
type CallLog struct {
	CustomerID string        `json:"customerId"`
	Duration   int           `json:"duration"`
	Status     CallStatus    `json:"status"`
	Direction  CallDirection `json:"direction"`
	Notes      string        `json:"notes"`
}

type DashboardStats struct {
	TotalCalls        int    `json:"totalCalls"`
	TotalCustomers    int    `json:"totalCustomers"`
	InactiveCustomers int    `json:"inactiveCustomers"`
	TopAgent          string `json:"topAgent"`
}

// SIPConfig is the line configuration served to the logged-in agent.
type SIPConfig struct {
	Server    string `json:"server"`
	Domain    string `json:"domain"`
	Extension string `json:"extension"`
	Password  string `json:"password"`
}

type LoginResult struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}
