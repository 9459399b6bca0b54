package transition

import "github.com/fieldsync/go-sync-backend/internal/domain"

// Default is the process-wide registry with the built-in entity types
// installed. Components take a *Registry so tests can substitute their own.
var Default = NewRegistry()

func init() {
	Default.Register(domain.EntityTypeTask,
		[]string{domain.TaskAssigned, domain.TaskStandby},
		Table{
			domain.TaskAssigned:           {domain.TaskInProgress, domain.TaskStandby},
			domain.TaskInProgress:         {domain.TaskCompleted, domain.TaskPartiallyCompleted, domain.TaskStandby},
			domain.TaskPartiallyCompleted: {domain.TaskCompleted, domain.TaskInProgress, domain.TaskStandby},
			domain.TaskStandby:            {domain.TaskAssigned, domain.TaskInProgress},
			domain.TaskCompleted:          {domain.TaskStandby},
		})

	Default.Register(domain.EntityTypeTicket,
		[]string{domain.TicketOpen},
		Table{
			domain.TicketOpen:       {domain.TicketTriaged, domain.TicketClosed},
			domain.TicketTriaged:    {domain.TicketInProgress, domain.TicketClosed},
			domain.TicketInProgress: {domain.TicketResolved},
			domain.TicketResolved:   {domain.TicketClosed, domain.TicketReopened},
			domain.TicketReopened:   {domain.TicketTriaged, domain.TicketInProgress},
			domain.TicketClosed:     {domain.TicketReopened},
		})

	Default.Register(domain.EntityTypeOnboarding,
		[]string{domain.OnboardingStarted},
		Table{
			domain.OnboardingStarted:            {domain.OnboardingDocumentsSubmitted, domain.OnboardingRejected},
			domain.OnboardingDocumentsSubmitted: {domain.OnboardingVerified, domain.OnboardingRejected},
			domain.OnboardingVerified:           {domain.OnboardingActive, domain.OnboardingRejected},
			domain.OnboardingRejected:           {domain.OnboardingStarted},
		})
}

// IsTransitionAllowed checks the default registry. See Registry.IsTransitionAllowed.
func IsTransitionAllowed(entityType, current, next string) bool {
	return Default.IsTransitionAllowed(entityType, current, next)
}
