package catalog

import (
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"
)

// Schema reflects the behavior catalog document into a JSON schema.
func Schema() (*jsonschema.Schema, error) {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		DoNotReference:             true,
	}

	entrySchema := reflector.ReflectFromType(reflect.TypeOf(EntryDocument{}))
	if entrySchema == nil {
		return nil, fmt.Errorf("failed to reflect behavior entry schema")
	}
	entrySchema.Version = ""
	entrySchema.Title = "Behavior Entry"
	entrySchema.Description = "Designer-authored simulation behavior selection and tuning."

	root := &jsonschema.Schema{
		Version:     jsonschema.Version,
		Title:       "Stagelink Behavior Catalog",
		Description: "Behavior configurations consumed by the simulation driver.",
		OneOf: []*jsonschema.Schema{
			entrySchema,
			{
				Type:        "array",
				Title:       "Behavior List",
				Description: "Catalog expressed as an ordered list of entries.",
				Items:       entrySchema,
			},
		},
	}
	return root, nil
}
