package toolserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/szaher/sde-mcp-proxy/internal/sde"
)

type listInput struct {
	PageSize int    `json:"page_size,omitempty" jsonschema:"Number of results per page"`
	Include  string `json:"include,omitempty" jsonschema:"Additional fields to include (comma-separated)"`
	Expand   string `json:"expand,omitempty" jsonschema:"Fields to expand (comma-separated)"`
}

func (in listInput) options() sde.ListOptions {
	return sde.ListOptions{PageSize: in.PageSize, Include: in.Include, Expand: in.Expand}
}

type projectRef struct {
	ProjectID int `json:"project_id" jsonschema:"The ID of the project"`
}

type getProjectInput struct {
	ProjectID int    `json:"project_id" jsonschema:"The ID of the project to retrieve"`
	Include   string `json:"include,omitempty" jsonschema:"Additional fields to include (comma-separated)"`
	Expand    string `json:"expand,omitempty" jsonschema:"Fields to expand (comma-separated)"`
}

type createProjectInput struct {
	Name          string `json:"name" jsonschema:"Project name"`
	ApplicationID int    `json:"application_id" jsonschema:"ID of the application this project belongs to"`
	Description   string `json:"description,omitempty" jsonschema:"Project description"`
	PhaseID       int    `json:"phase_id,omitempty" jsonschema:"ID of the project phase"`
	ProfileID     string `json:"profile_id,omitempty" jsonschema:"ID of the risk profile"`
}

type updateProjectInput struct {
	ProjectID   int    `json:"project_id" jsonschema:"The ID of the project to update"`
	Name        string `json:"name,omitempty" jsonschema:"Updated project name"`
	Description string `json:"description,omitempty" jsonschema:"Updated project description"`
	Status      string `json:"status,omitempty" jsonschema:"Project status"`
}

func (s *Server) registerProjects() {
	register(s, "list_projects", "List all projects in SD Elements",
		func(ctx context.Context, in listInput) (any, error) {
			return s.api.ListProjects(ctx, in.options())
		})
	register(s, "get_project", "Get detailed information about a specific project by its ID",
		func(ctx context.Context, in getProjectInput) (any, error) {
			return s.api.GetProject(ctx, in.ProjectID, sde.ListOptions{Include: in.Include, Expand: in.Expand})
		})
	register(s, "create_project", "Create a new project in SD Elements. Requires the ID of the application it belongs to.",
		func(ctx context.Context, in createProjectInput) (any, error) {
			return s.api.CreateProject(ctx, sde.ProjectInput{
				Name:          in.Name,
				ApplicationID: in.ApplicationID,
				Description:   in.Description,
				PhaseID:       in.PhaseID,
				ProfileID:     in.ProfileID,
			})
		})
	register(s, "update_project", "Update an existing project's name, description or status",
		func(ctx context.Context, in updateProjectInput) (any, error) {
			return s.api.UpdateProject(ctx, in.ProjectID, sde.ProjectUpdate{
				Name:        in.Name,
				Description: in.Description,
				Status:      in.Status,
			})
		})
	register(s, "delete_project", "Delete a project",
		func(ctx context.Context, in projectRef) (any, error) {
			return s.api.DeleteProject(ctx, in.ProjectID)
		})
}

type getApplicationInput struct {
	ApplicationID int    `json:"application_id" jsonschema:"The ID of the application"`
	Include       string `json:"include,omitempty" jsonschema:"Additional fields to include (comma-separated)"`
	Expand        string `json:"expand,omitempty" jsonschema:"Fields to expand (comma-separated)"`
}

type createApplicationInput struct {
	Name           string `json:"name" jsonschema:"Application name"`
	BusinessUnitID int    `json:"business_unit_id" jsonschema:"ID of the owning business unit"`
	Description    string `json:"description,omitempty" jsonschema:"Application description"`
}

type updateApplicationInput struct {
	ApplicationID int    `json:"application_id" jsonschema:"The ID of the application to update"`
	Name          string `json:"name,omitempty" jsonschema:"Updated application name"`
	Description   string `json:"description,omitempty" jsonschema:"Updated application description"`
}

type businessUnitRef struct {
	BusinessUnitID int `json:"business_unit_id" jsonschema:"The ID of the business unit"`
}

func (s *Server) registerApplications() {
	register(s, "list_applications", "List all applications",
		func(ctx context.Context, in listInput) (any, error) {
			return s.api.ListApplications(ctx, in.options())
		})
	register(s, "get_application", "Get details of a specific application",
		func(ctx context.Context, in getApplicationInput) (any, error) {
			return s.api.GetApplication(ctx, in.ApplicationID, sde.ListOptions{Include: in.Include, Expand: in.Expand})
		})
	register(s, "create_application", "Create a new application in a business unit",
		func(ctx context.Context, in createApplicationInput) (any, error) {
			return s.api.CreateApplication(ctx, sde.ApplicationInput{
				Name:           in.Name,
				BusinessUnitID: in.BusinessUnitID,
				Description:    in.Description,
			})
		})
	register(s, "update_application", "Update an existing application",
		func(ctx context.Context, in updateApplicationInput) (any, error) {
			return s.api.UpdateApplication(ctx, in.ApplicationID, sde.ApplicationUpdate{Name: in.Name, Description: in.Description})
		})
	register(s, "list_business_units", "List all business units",
		func(ctx context.Context, in listInput) (any, error) {
			return s.api.ListBusinessUnits(ctx, in.options())
		})
	register(s, "get_business_unit", "Get details of a specific business unit",
		func(ctx context.Context, in businessUnitRef) (any, error) {
			return s.api.GetBusinessUnit(ctx, in.BusinessUnitID)
		})
}

type listCountermeasuresInput struct {
	ProjectID    int    `json:"project_id" jsonschema:"The ID of the project"`
	Status       string `json:"status,omitempty" jsonschema:"Only countermeasures with this status"`
	PageSize     int    `json:"page_size,omitempty" jsonschema:"Number of results per page"`
	RiskRelevant *bool  `json:"risk_relevant,omitempty" jsonschema:"Only risk-relevant countermeasures (default true)"`
}

type countermeasureRef struct {
	ProjectID        int   `json:"project_id" jsonschema:"The ID of the project"`
	CountermeasureID any   `json:"countermeasure_id" jsonschema:"Countermeasure ID as a number (21) or string (T21 or 31244-T21)"`
	RiskRelevant     *bool `json:"risk_relevant,omitempty" jsonschema:"Only risk-relevant countermeasures (default true)"`
}

type updateCountermeasureInput struct {
	ProjectID        int    `json:"project_id" jsonschema:"The ID of the project"`
	CountermeasureID any    `json:"countermeasure_id" jsonschema:"Countermeasure ID as a number (21) or string (T21 or 31244-T21)"`
	Status           string `json:"status,omitempty" jsonschema:"New status as name (Complete), slug (DONE) or ID (TS1)"`
	Notes            string `json:"notes,omitempty" jsonschema:"Status note; saved only when the status changes"`
}

type countermeasureNoteInput struct {
	ProjectID        int    `json:"project_id" jsonschema:"The ID of the project"`
	CountermeasureID any    `json:"countermeasure_id" jsonschema:"Countermeasure ID as a number (21) or string (T21 or 31244-T21)"`
	Note             string `json:"note" jsonschema:"Note text"`
}

// countermeasureID accepts numbers and strings for the same parameter.
func countermeasureID(v any) (string, error) {
	switch x := v.(type) {
	case string:
		if strings.TrimSpace(x) == "" {
			break
		}
		return x, nil
	case float64:
		return fmt.Sprintf("%d", int64(x)), nil
	case int:
		return fmt.Sprintf("%d", x), nil
	}
	return "", fmt.Errorf("countermeasure_id must be a number or string, got %v", v)
}

func (s *Server) registerCountermeasures() {
	register(s, "list_countermeasures",
		"List all countermeasures for a project. Use this to see countermeasures associated with a project, not get_project which returns project details.",
		func(ctx context.Context, in listCountermeasuresInput) (any, error) {
			return s.api.ListCountermeasures(ctx, in.ProjectID, sde.CountermeasureFilter{
				Status:       in.Status,
				PageSize:     in.PageSize,
				RiskRelevant: in.RiskRelevant,
			})
		})
	register(s, "get_countermeasure",
		"Get details of a SPECIFIC countermeasure by its ID (e.g. 'countermeasure 123', 'T21'). Do NOT use this for available status choices; use get_task_status_choices instead.",
		func(ctx context.Context, in countermeasureRef) (any, error) {
			id, err := countermeasureID(in.CountermeasureID)
			if err != nil {
				return nil, err
			}
			return s.api.GetCountermeasure(ctx, in.ProjectID, id, in.RiskRelevant)
		})
	register(s, "update_countermeasure",
		"Update a countermeasure's status or notes. Use when the user says 'update status', 'mark as complete' or 'change status'. Use add_countermeasure_note to add a note.",
		func(ctx context.Context, in updateCountermeasureInput) (any, error) {
			id, err := countermeasureID(in.CountermeasureID)
			if err != nil {
				return nil, err
			}
			return s.api.UpdateCountermeasure(ctx, in.ProjectID, id, sde.CountermeasureUpdate{Status: in.Status, StatusNote: in.Notes})
		})
	register(s, "add_countermeasure_note",
		"Add a note to a countermeasure. Use when the user says 'add note', 'document' or 'record that'.",
		func(ctx context.Context, in countermeasureNoteInput) (any, error) {
			id, err := countermeasureID(in.CountermeasureID)
			if err != nil {
				return nil, err
			}
			return s.api.AddCountermeasureNote(ctx, in.ProjectID, id, in.Note)
		})
	register(s, "get_task_status_choices",
		"Get the list of ALL available task status choices that can be used when updating countermeasures. Returns possible statuses, NOT the status of a specific countermeasure.",
		func(ctx context.Context, _ struct{}) (any, error) {
			return s.api.TaskStatusChoices(ctx)
		})
}

type selectedAnswersInput struct {
	ProjectID int    `json:"project_id" jsonschema:"The ID of the project"`
	Format    string `json:"format,omitempty" jsonschema:"summary (default), detailed or grouped"`
}

type updateSurveyInput struct {
	ProjectID      int      `json:"project_id" jsonschema:"The ID of the project"`
	Answers        []string `json:"answers" jsonschema:"Answer IDs to select"`
	SurveyComplete *bool    `json:"survey_complete,omitempty" jsonschema:"Mark the survey as complete"`
}

type findAnswersInput struct {
	ProjectID   int      `json:"project_id" jsonschema:"The ID of the project"`
	SearchTexts []string `json:"search_texts" jsonschema:"Answer texts to look up"`
}

type setAnswersInput struct {
	ProjectID      int      `json:"project_id" jsonschema:"The ID of the project"`
	AnswerTexts    []string `json:"answer_texts" jsonschema:"Texts of the answers that replace the current selection"`
	SurveyComplete *bool    `json:"survey_complete,omitempty" jsonschema:"Mark the survey as complete"`
}

type addAnswersInput struct {
	ProjectID        int      `json:"project_id" jsonschema:"The ID of the project"`
	AnswerTextsToAdd []string `json:"answer_texts_to_add" jsonschema:"Texts of the answers to add"`
}

type removeAnswersInput struct {
	ProjectID           int      `json:"project_id" jsonschema:"The ID of the project"`
	AnswerTextsToRemove []string `json:"answer_texts_to_remove" jsonschema:"Texts of the answers to remove"`
}

func (s *Server) registerSurveys() {
	register(s, "get_project_survey",
		"Get the complete survey structure for a project (all questions and ALL possible answers). Use get_survey_answers_for_project to see only the selected answers.",
		func(ctx context.Context, in projectRef) (any, error) {
			return s.api.GetProjectSurvey(ctx, in.ProjectID)
		})
	register(s, "get_survey_answers_for_project",
		"Get the survey answers currently selected for a project. Use when the user asks 'show me the survey answers for project X' or 'what answers are set for project'.",
		func(ctx context.Context, in selectedAnswersInput) (any, error) {
			return s.api.SelectedAnswers(ctx, in.ProjectID, in.Format)
		})
	register(s, "update_project_survey", "Update project survey with answer IDs",
		func(ctx context.Context, in updateSurveyInput) (any, error) {
			return s.api.UpdateProjectSurvey(ctx, in.ProjectID, in.Answers, in.SurveyComplete)
		})
	register(s, "find_survey_answers", "Find survey answers by text",
		func(ctx context.Context, in findAnswersInput) (any, error) {
			return s.api.FindSurveyAnswers(ctx, in.ProjectID, in.SearchTexts)
		})
	register(s, "set_project_survey_by_text",
		"Set/REPLACE all project survey answers by text. Use ONLY when the user wants to replace all answers; use add_survey_answers_by_text to add.",
		func(ctx context.Context, in setAnswersInput) (any, error) {
			return s.api.SetSurveyAnswersByText(ctx, in.ProjectID, in.AnswerTexts, in.SurveyComplete)
		})
	register(s, "add_survey_answers_by_text",
		"ADD survey answers by text to the existing answers. Use when the user says 'add' or 'include'.",
		func(ctx context.Context, in addAnswersInput) (any, error) {
			return s.api.AddSurveyAnswersByText(ctx, in.ProjectID, in.AnswerTextsToAdd)
		})
	register(s, "remove_survey_answers_by_text", "Remove survey answers by text",
		func(ctx context.Context, in removeAnswersInput) (any, error) {
			return s.api.RemoveSurveyAnswersByText(ctx, in.ProjectID, in.AnswerTextsToRemove)
		})
	register(s, "commit_survey_draft", "Commit the survey draft to publish the survey and generate countermeasures",
		func(ctx context.Context, in projectRef) (any, error) {
			return s.api.CommitSurveyDraft(ctx, in.ProjectID)
		})
}

type reportRef struct {
	ReportID int `json:"report_id" jsonschema:"The ID of the advanced report"`
}

type runReportInput struct {
	ReportID int    `json:"report_id" jsonschema:"The ID of the advanced report to run"`
	Format   string `json:"format,omitempty" jsonschema:"Output format, e.g. json or csv"`
}

type createReportInput struct {
	Title       string         `json:"title" jsonschema:"Report title"`
	Chart       string         `json:"chart" jsonschema:"Chart type, e.g. table, bar or pie"`
	Query       string         `json:"query" jsonschema:"Cube query for the report as a JSON string"`
	Description string         `json:"description,omitempty" jsonschema:"Report description"`
	ChartMeta   map[string]any `json:"chart_meta,omitempty" jsonschema:"Chart display options"`
	Type        string         `json:"type,omitempty" jsonschema:"Report type"`
}

type cubeQueryInput struct {
	Query string `json:"query" jsonschema:"Cube query as a JSON object string"`
}

func (s *Server) registerReports() {
	register(s, "list_advanced_reports", "List all saved advanced reports",
		func(ctx context.Context, _ struct{}) (any, error) {
			return s.api.ListAdvancedReports(ctx)
		})
	register(s, "get_advanced_report", "Get the definition of a specific advanced report",
		func(ctx context.Context, in reportRef) (any, error) {
			return s.api.GetAdvancedReport(ctx, in.ReportID)
		})
	register(s, "run_advanced_report",
		"Run a saved advanced report and return its data. Use get_advanced_report to see the report definition instead.",
		func(ctx context.Context, in runReportInput) (any, error) {
			return s.api.RunAdvancedReport(ctx, in.ReportID, in.Format)
		})
	register(s, "create_advanced_report", "Create a new advanced report from a chart type and a cube query",
		func(ctx context.Context, in createReportInput) (any, error) {
			return s.api.CreateAdvancedReport(ctx, sde.ReportInput{
				Title:       in.Title,
				Chart:       in.Chart,
				Query:       in.Query,
				Description: in.Description,
				ChartMeta:   in.ChartMeta,
				Type:        in.Type,
			})
		})
	register(s, "execute_cube_query",
		"Execute an ad hoc cube query for analytics without saving a report",
		func(ctx context.Context, in cubeQueryInput) (any, error) {
			return s.api.ExecuteCubeQuery(ctx, in.Query)
		})
}

type diagramRef struct {
	DiagramID int `json:"diagram_id" jsonschema:"The ID of the diagram"`
}

type createDiagramInput struct {
	ProjectID   int            `json:"project_id" jsonschema:"The ID of the project the diagram belongs to"`
	Name        string         `json:"name" jsonschema:"Diagram name"`
	DiagramData map[string]any `json:"diagram_data,omitempty" jsonschema:"Diagram content"`
}

type updateDiagramInput struct {
	DiagramID   int            `json:"diagram_id" jsonschema:"The ID of the diagram to update"`
	Name        string         `json:"name,omitempty" jsonschema:"Updated diagram name"`
	DiagramData map[string]any `json:"diagram_data,omitempty" jsonschema:"Updated diagram content"`
}

func (s *Server) registerDiagrams() {
	register(s, "list_project_diagrams", "List the threat model diagrams of a project",
		func(ctx context.Context, in projectRef) (any, error) {
			return s.api.ListProjectDiagrams(ctx, in.ProjectID)
		})
	register(s, "get_diagram", "Get details of a specific diagram",
		func(ctx context.Context, in diagramRef) (any, error) {
			return s.api.GetDiagram(ctx, in.DiagramID)
		})
	register(s, "create_diagram", "Create a new diagram in a project",
		func(ctx context.Context, in createDiagramInput) (any, error) {
			return s.api.CreateDiagram(ctx, sde.DiagramInput{ProjectID: in.ProjectID, Name: in.Name, Data: in.DiagramData})
		})
	register(s, "update_diagram", "Update a diagram's name or content",
		func(ctx context.Context, in updateDiagramInput) (any, error) {
			return s.api.UpdateDiagram(ctx, in.DiagramID, sde.DiagramUpdate{Name: in.Name, Data: in.DiagramData})
		})
	register(s, "delete_diagram", "Delete a diagram",
		func(ctx context.Context, in diagramRef) (any, error) {
			return s.api.DeleteDiagram(ctx, in.DiagramID)
		})
}

type userRef struct {
	UserID int `json:"user_id" jsonschema:"The ID of the user"`
}

func (s *Server) registerUsers() {
	register(s, "list_users", "List all users",
		func(ctx context.Context, in listInput) (any, error) {
			return s.api.ListUsers(ctx, in.options())
		})
	register(s, "get_user", "Get details of a specific user",
		func(ctx context.Context, in userRef) (any, error) {
			return s.api.GetUser(ctx, in.UserID)
		})
	register(s, "get_current_user", "Get the currently authenticated user",
		func(ctx context.Context, _ struct{}) (any, error) {
			return s.api.CurrentUser(ctx)
		})
}

type apiRequestInput struct {
	Method   string         `json:"method" jsonschema:"HTTP method: GET, POST, PUT, PATCH or DELETE"`
	Endpoint string         `json:"endpoint" jsonschema:"Endpoint relative to /api/v2/, e.g. groups/"`
	Params   map[string]any `json:"params,omitempty" jsonschema:"Query parameters"`
	Data     map[string]any `json:"data,omitempty" jsonschema:"JSON request body"`
}

func (s *Server) registerGeneric() {
	register(s, "api_request",
		"Make a generic API request to a custom endpoint. Use when the user says 'make a GET/POST request' or 'call API endpoint'. Do NOT use for specific operations; use dedicated tools like get_project instead.",
		func(ctx context.Context, in apiRequestInput) (any, error) {
			return s.api.APIRequest(ctx, in.Method, in.Endpoint, in.Params, in.Data)
		})
	register(s, "test_connection",
		"Test the connection to the SD Elements API. Use this to verify connectivity and credentials, not for making API calls.",
		func(ctx context.Context, _ struct{}) (any, error) {
			err := s.api.TestConnection(ctx)
			res := map[string]any{
				"connection_successful": err == nil,
				"host":                  s.api.Host(),
				"message":               "Connection successful",
			}
			if err != nil {
				res["message"] = "Connection failed: " + describeError(err)
			}
			return res, nil
		})
}
