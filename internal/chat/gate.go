package chat

const usageLimitBanner = "This agent has used its monthly token allowance. New messages are disabled until the quota resets."

// CanSend reports whether the agent's quota still allows new messages.
func CanSend(agent Agent) bool {
	return agent.MonthlyLimit != 0
}

// UsageBanner returns the persistent warning shown while the quota is
// exhausted, or "" when sending is allowed.
func UsageBanner(agent Agent) string {
	if CanSend(agent) {
		return ""
	}
	return usageLimitBanner
}
