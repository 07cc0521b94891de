package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

type graphqlRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"errors"`
}

// graphql runs one query. Errors in the payload come back as *APIError,
// with StatusCode 404 for NOT_FOUND.
func (c *Client) graphql(ctx context.Context, query string, vars map[string]interface{}, out interface{}) error {
	var resp graphqlResponse
	if err := c.do(ctx, http.MethodPost, "/graphql", graphqlRequest{Query: query, Variables: vars}, &resp); err != nil {
		return err
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			msgs = append(msgs, e.Message)
		}
		apiErr := &APIError{Message: strings.Join(msgs, "; ")}
		if resp.Errors[0].Type == "NOT_FOUND" {
			apiErr.StatusCode = http.StatusNotFound
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("decode graphql data: %w", err)
	}
	return nil
}

const projectFieldsQuery = `
query($owner: String!, $number: Int!) {
  repositoryOwner(login: $owner) {
    ... on User { projectV2(number: $number) { ...fields } }
    ... on Organization { projectV2(number: $number) { ...fields } }
  }
}
fragment fields on ProjectV2 {
  id
  fields(first: 50) {
    nodes {
      ... on ProjectV2Field { id name dataType }
      ... on ProjectV2SingleSelectField { id name dataType options { id name } }
    }
  }
}`

const projectItemsQuery = `
query($owner: String!, $number: Int!, $cursor: String) {
  repositoryOwner(login: $owner) {
    ... on User { projectV2(number: $number) { ...items } }
    ... on Organization { projectV2(number: $number) { ...items } }
  }
}
fragment items on ProjectV2 {
  items(first: 100, after: $cursor) {
    pageInfo { hasNextPage endCursor }
    nodes {
      id
      content {
        ... on Issue {
          id number title body state
          labels(first: 50) { nodes { name } }
          subIssues(first: 50) {
            nodes { id number title state labels(first: 20) { nodes { name } } }
          }
        }
      }
      fieldValues(first: 30) {
        nodes {
          ... on ProjectV2ItemFieldSingleSelectValue { name field { ... on ProjectV2FieldCommon { name } } }
          ... on ProjectV2ItemFieldNumberValue { number field { ... on ProjectV2FieldCommon { name } } }
          ... on ProjectV2ItemFieldTextValue { text field { ... on ProjectV2FieldCommon { name } } }
        }
      }
    }
  }
}`

const issueIDQuery = `
query($owner: String!, $repo: String!, $number: Int!) {
  repository(owner: $owner, name: $repo) { issue(number: $number) { id } }
}`

const addItemMutation = `
mutation($project: ID!, $content: ID!) {
  addProjectV2ItemById(input: {projectId: $project, contentId: $content}) { item { id } }
}`

const setFieldMutation = `
mutation($project: ID!, $item: ID!, $field: ID!, $value: ProjectV2FieldValue!) {
  updateProjectV2ItemFieldValue(input: {projectId: $project, itemId: $item, fieldId: $field, value: $value}) {
    projectV2Item { id }
  }
}`

type labelNodes struct {
	Nodes []struct {
		Name string `json:"name"`
	} `json:"nodes"`
}

func (l labelNodes) names() []string {
	out := make([]string, 0, len(l.Nodes))
	for _, n := range l.Nodes {
		out = append(out, n.Name)
	}
	return out
}

type fieldNode struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	DataType string `json:"dataType"`
	Options  []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"options"`
}

type projectNode struct {
	ID     string `json:"id"`
	Fields struct {
		Nodes []fieldNode `json:"nodes"`
	} `json:"fields"`
	Items struct {
		PageInfo struct {
			HasNextPage bool   `json:"hasNextPage"`
			EndCursor   string `json:"endCursor"`
		} `json:"pageInfo"`
		Nodes []itemNode `json:"nodes"`
	} `json:"items"`
}

type ownerData struct {
	RepositoryOwner *struct {
		ProjectV2 *projectNode `json:"projectV2"`
	} `json:"repositoryOwner"`
}

type itemNode struct {
	ID      string `json:"id"`
	Content *struct {
		ID        string     `json:"id"`
		Number    int        `json:"number"`
		Title     string     `json:"title"`
		Body      string     `json:"body"`
		State     string     `json:"state"`
		Labels    labelNodes `json:"labels"`
		SubIssues struct {
			Nodes []struct {
				ID     string     `json:"id"`
				Number int        `json:"number"`
				Title  string     `json:"title"`
				State  string     `json:"state"`
				Labels labelNodes `json:"labels"`
			} `json:"nodes"`
		} `json:"subIssues"`
	} `json:"content"`
	FieldValues struct {
		Nodes []struct {
			Name   *string  `json:"name"`
			Number *float64 `json:"number"`
			Text   *string  `json:"text"`
			Field  struct {
				Name string `json:"name"`
			} `json:"field"`
		} `json:"nodes"`
	} `json:"fieldValues"`
}
