// Package orchestrator runs the control loop: one bounded planning and
// execution pass per external invocation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"

	"loom/db"
	"loom/policy"
	"loom/providers"
	"loom/skills"
)

// CreateSkillAction is the reserved action name an agent uses to register a
// new capability mid-execution.
const CreateSkillAction = "create_skill"

const planTitleLimit = 80

// Orchestrator drives one pass: fetch-or-create a plan, select the next
// runnable task, gate and dispatch each step, and fold the outcome back.
type Orchestrator struct {
	plans       *db.PlanStore
	execs       *db.ExecutionStore
	experiences *db.ExperienceStore
	router      *providers.Router
	client      providers.ReasoningClient
	gate        policy.Gate
	registry    *skills.Registry
	builder     skills.Builder
	dispatch    func(reg *skills.Registry) skills.Dispatcher
}

// Options configures an Orchestrator
type Options struct {
	Plans       *db.PlanStore
	Executions  *db.ExecutionStore
	Experiences *db.ExperienceStore
	Router      *providers.Router
	Client      providers.ReasoningClient
	Gate        policy.Gate
	Registry    *skills.Registry
	Builder     skills.Builder
	RetryPolicy *skills.RetryPolicy
	StepTimeout time.Duration
}

// New builds an orchestrator with explicit dependencies
func New(opts Options) *Orchestrator {
	gate := opts.Gate
	if gate == nil {
		gate = policy.AllowAll{}
	}
	registry := opts.Registry
	if registry == nil {
		registry = skills.DefaultRegistry()
	}

	retryPolicy := skills.DefaultRetryPolicy
	if opts.RetryPolicy != nil {
		retryPolicy = *opts.RetryPolicy
	}
	timeout := opts.StepTimeout

	return &Orchestrator{
		plans:       opts.Plans,
		execs:       opts.Executions,
		experiences: opts.Experiences,
		router:      opts.Router,
		client:      opts.Client,
		gate:        gate,
		registry:    registry,
		builder:     opts.Builder,
		dispatch: func(reg *skills.Registry) skills.Dispatcher {
			return skills.NewRetryingDispatcher(reg, retryPolicy, timeout)
		},
	}
}

// RunAgent performs one bounded planning+execution pass for the agent. The
// returned result always contains every step attempted, including failed
// ones. An error is returned only when the pass could not even start.
func (o *Orchestrator) RunAgent(ctx context.Context, tenantID, agentID, objective, input string) (*Result, error) {
	exec, err := o.execs.Create(tenantID, agentID, objective)
	if err != nil {
		return nil, serr.Wrap(err, "failed to create execution record")
	}

	result, passErr := o.runPass(ctx, exec, tenantID, agentID, objective, input)
	if passErr != nil {
		logger.LogErr(passErr, "pass failed", "execution", exec.ID)
		if ferr := o.execs.Finish(exec.ID, db.ExecutionFailed, result.Output, passErr.Error()); ferr != nil {
			logger.LogErr(ferr, "failed to finalize execution")
		}
		result.Status = db.ExecutionFailed
		result.Steps, _ = o.execs.Steps(exec.ID)
		return result, nil
	}

	if ferr := o.execs.Finish(exec.ID, result.Status, result.Output, ""); ferr != nil {
		logger.LogErr(ferr, "failed to finalize execution")
	}
	result.Steps, _ = o.execs.Steps(exec.ID)
	return result, nil
}

// runPass executes the body of a pass. Errors returned here abort the pass;
// step-level failures are recorded in the steps and do not.
func (o *Orchestrator) runPass(ctx context.Context, exec *db.Execution, tenantID, agentID, objective, input string) (*Result, error) {
	result := &Result{ExecutionID: exec.ID, Status: db.ExecutionRunning}
	start := time.Now()

	plan, task, err := o.preparePlan(tenantID, agentID, objective)
	if err != nil {
		return result, err
	}

	// Per-pass copy-on-write capability set: a capability created during
	// this pass never leaks into a concurrently running one.
	passSkills := o.registry.Clone()
	dispatcher := o.dispatch(passSkills)

	history, err := o.execs.Recent(agentID, tenantID, historyWindow)
	if err != nil {
		logger.LogErr(err, "failed to load execution history")
	}
	similar, err := o.experiences.SearchSimilar(tenantID, firstWords(objective, 4), similarWindow)
	if err != nil {
		logger.LogErr(err, "failed to search experiences")
	}

	req := providers.Request{
		Capability:     providers.CapabilityChat,
		Messages:       buildMessages(objective, input, task, plan, history, similar, passSkills.Names()),
		HighImportance: task != nil && task.Priority == db.PriorityHigh,
	}

	selection, err := o.router.Route(tenantID, req)
	if err != nil {
		return result, serr.Wrap(err, "provider routing failed")
	}

	resp, err := o.client.Complete(ctx, selection, req)
	if err != nil {
		return result, serr.Wrap(err, "reasoning call failed")
	}

	steps, parseErr := ParseTrace(resp.Text)
	if parseErr != nil {
		logger.Info("Degraded to free-text trace", "execution", exec.ID)
	}

	ok := o.executeSteps(ctx, exec.ID, tenantID, agentID, steps, passSkills, dispatcher, result)

	if ok {
		result.Status = db.ExecutionCompleted
	} else {
		result.Status = db.ExecutionFailed
	}

	if task != nil {
		o.settleTask(task, ok)
	}

	o.logExperience(tenantID, agentID, task, objective, selection, steps, ok, time.Since(start))

	return result, nil
}

// preparePlan fetches the agent's active plan (creating and seeding one when
// absent), blocks tasks with failed dependencies, and marks the first
// runnable task in_progress. A nil task means the pass runs on the raw
// objective.
func (o *Orchestrator) preparePlan(tenantID, agentID, objective string) (*db.Plan, *db.Task, error) {
	plan, err := o.plans.GetActivePlan(agentID, tenantID)
	if errors.Is(err, db.ErrPlanNotFound) {
		plan, err = o.plans.CreatePlan(agentID, tenantID, firstWords(objective, 10))
		if err != nil {
			// Another pass may have created the plan in between; reuse it.
			if errors.Is(err, db.ErrActivePlanExists) {
				plan, err = o.plans.GetActivePlan(agentID, tenantID)
			}
			if err != nil {
				return nil, nil, serr.Wrap(err, "failed to create plan")
			}
		}
		if _, err := o.plans.AddTask(plan.ID, objective, db.PriorityHigh, ""); err != nil {
			return nil, nil, serr.Wrap(err, "failed to seed plan")
		}
		plan, err = o.plans.GetActivePlan(agentID, tenantID)
		if err != nil {
			return nil, nil, serr.Wrap(err, "failed to reload plan")
		}
	} else if err != nil {
		return nil, nil, serr.Wrap(err, "failed to load plan")
	}

	o.blockFailedDependents(plan)

	task, err := o.plans.NextRunnableTask(plan.ID)
	if err != nil {
		return nil, nil, serr.Wrap(err, "failed to select task")
	}
	if task == nil {
		return plan, nil, nil
	}

	if err := o.plans.UpdateTaskStatus(task.ID, db.TaskInProgress, nil); err != nil {
		if errors.Is(err, db.ErrDependencyUnsatisfied) {
			// Raced with a dependency failure; run the degenerate pass.
			return plan, nil, nil
		}
		return nil, nil, serr.Wrap(err, "failed to start task")
	}
	task.Status = db.TaskInProgress

	return plan, task, nil
}

// blockFailedDependents moves pending tasks whose dependency failed to
// blocked. They must never silently proceed.
func (o *Orchestrator) blockFailedDependents(plan *db.Plan) {
	byID := make(map[string]*db.Task, len(plan.Tasks))
	for _, t := range plan.Tasks {
		byID[t.ID] = t
	}
	for _, t := range plan.Tasks {
		if t.Status != db.TaskPending {
			continue
		}
		for _, depID := range t.DependsOn {
			dep, ok := byID[depID]
			if ok && dep.Status == db.TaskFailed {
				if err := o.plans.UpdateTaskStatus(t.ID, db.TaskBlocked, nil); err != nil {
					logger.LogErr(err, "failed to block task", "task", t.ID)
				} else {
					t.Status = db.TaskBlocked
				}
				break
			}
		}
	}
}

// executeSteps runs each parsed step sequentially, persisting every step in
// ordinal order before moving to the next. It returns whether the pass
// succeeded overall: the final step must not be an error.
func (o *Orchestrator) executeSteps(ctx context.Context, executionID, tenantID, agentID string,
	steps []*Step, passSkills *skills.Registry, dispatcher skills.Dispatcher, result *Result) bool {

	lastOK := true

	for _, step := range steps {
		if step.Action != nil {
			o.executeAction(ctx, tenantID, agentID, step, passSkills, dispatcher)
		} else if step.FinalAnswer != "" {
			result.Output = step.FinalAnswer
		}

		status := "ok"
		if step.Err {
			status = "error"
		}
		lastOK = !step.Err

		record := &db.StepRecord{
			ExecutionID: executionID,
			Ordinal:     step.Ordinal,
			Thought:     step.Thought,
			Observation: step.Observation,
			FinalAnswer: step.FinalAnswer,
			Status:      status,
		}
		if step.Action != nil {
			record.Skill = step.Action.Skill
			record.Args = step.Action.Args
		}
		if err := o.execs.SaveStep(record); err != nil {
			logger.LogErr(err, "failed to persist step", "ordinal", strconv.Itoa(step.Ordinal))
			return false
		}
	}

	if result.Output == "" && len(steps) > 0 {
		last := steps[len(steps)-1]
		result.Output = last.Observation
	}

	return lastOK
}

// executeAction resolves one step's action: policy gate, then dispatch,
// capability creation, or a simulated observation. A denial or skill failure
// marks only this step; the pass continues.
func (o *Orchestrator) executeAction(ctx context.Context, tenantID, agentID string,
	step *Step, passSkills *skills.Registry, dispatcher skills.Dispatcher) {

	action := step.Action

	decision, err := o.gate.CanPerformAction(ctx, tenantID, agentID, action.Skill)
	if err != nil {
		step.Observation = "policy check failed: " + err.Error()
		step.Err = true
		return
	}
	if !decision.Allowed {
		step.Observation = "action denied by policy: " + decision.Reason
		step.Err = true
		return
	}

	switch {
	case action.Skill == CreateSkillAction:
		o.buildCapability(ctx, tenantID, agentID, step, passSkills)

	case passSkills.Has(action.Skill):
		output, err := dispatcher.Execute(ctx, action.Skill, action.Args, agentID, tenantID)
		if err != nil {
			step.Observation = "skill execution failed: " + err.Error()
			step.Err = true
			return
		}
		step.Observation = output

	default:
		step.Observation = fmt.Sprintf("simulated execution of %q (capability not wired)", action.Skill)
	}
}

// buildCapability handles a capability-creation request: the new skill is
// appended to this pass's capability set only.
func (o *Orchestrator) buildCapability(ctx context.Context, tenantID, agentID string,
	step *Step, passSkills *skills.Registry) {

	if o.builder == nil {
		step.Observation = "capability creation is not enabled"
		step.Err = true
		return
	}

	req := skills.BuildRequest{Kind: "http"}
	if name, ok := skills.GetString(step.Action.Args, "name"); ok {
		req.Name = name
	}
	if desc, ok := skills.GetString(step.Action.Args, "description"); ok {
		req.Description = desc
	}
	if kind, ok := skills.GetString(step.Action.Args, "kind"); ok {
		req.Kind = kind
	}
	if endpoint, ok := skills.GetString(step.Action.Args, "endpoint"); ok {
		req.Endpoint = endpoint
	}

	skill, executor, err := o.builder.Build(ctx, tenantID, agentID, req)
	if err != nil {
		step.Observation = "capability creation failed: " + err.Error()
		step.Err = true
		return
	}

	passSkills.Register(skill, executor)
	step.Observation = fmt.Sprintf("created capability %q, now available for this pass", skill.Name)
}

// settleTask finalizes the originating task after the pass
func (o *Orchestrator) settleTask(task *db.Task, ok bool) {
	target := db.TaskFailed
	if ok {
		target = db.TaskCompleted
	}
	if err := o.plans.UpdateTaskStatus(task.ID, target, nil); err != nil {
		logger.LogErr(err, "failed to settle task", "task", task.ID)
	}
}

// logExperience records the pass outcome for the adaptation loop. Never
// fails the pass.
func (o *Orchestrator) logExperience(tenantID, agentID string, task *db.Task, objective string,
	sel *providers.Selection, steps []*Step, ok bool, elapsed time.Duration) {

	if o.experiences == nil {
		return
	}

	expType := db.ExperienceFailure
	effectiveness := 0.0
	if ok {
		expType = db.ExperienceSuccess
		effectiveness = 1.0
	}

	var actions []string
	for _, s := range steps {
		if s.Action != nil {
			actions = append(actions, s.Action.Skill)
		}
	}

	exp := &db.Experience{
		TenantID:   tenantID,
		Type:       expType,
		AgentID:    agentID,
		Conditions: providers.CapabilityChat,
		Inputs:     objective,
		Actions:    actions,
		Model:      sel.Provider.Model,
		Outcome: db.ExperienceOutcome{
			Effectiveness: effectiveness,
			DurationMs:    elapsed.Milliseconds(),
		},
	}
	if task != nil {
		exp.TaskID = task.ID
	}

	if _, err := o.experiences.Insert(exp); err != nil {
		logger.LogErr(err, "failed to record experience")
	}
}

func firstWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[:n]
	}
	out := strings.Join(words, " ")
	if len(out) > planTitleLimit {
		out = out[:planTitleLimit]
	}
	return out
}
