package registry

import (
	"bufio"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// definitionFrontMatter is the YAML front matter of an agent descriptor:
// a "---" delimited block followed by the system prompt body.
type definitionFrontMatter struct {
	Name               string   `yaml:"name"`
	Role               Role     `yaml:"role"`
	Keywords           []string `yaml:"keywords"`
	SpecializedContext string   `yaml:"specialized_context"`
}

// skippedDefinitionNames are descriptors excluded by name convention
// (§4.3 "skips common/coordinator files by name convention").
var skippedDefinitionNames = map[string]bool{
	"common":      true,
	"coordinator": true,
	"chief":       true,
}

// Definition is a parsed agent descriptor ready to register.
type Definition struct {
	Name               string
	Role               Role
	Keywords           []string
	SpecializedContext string
	SystemPrompt       string
}

// ParseDefinition splits a descriptor's YAML front matter from its body (the
// system prompt) and validates the required fields.
func ParseDefinition(source string) (Definition, error) {
	front, body, err := splitFrontMatter(source)
	if err != nil {
		return Definition{}, err
	}
	var fm definitionFrontMatter
	if err := yaml.Unmarshal([]byte(front), &fm); err != nil {
		return Definition{}, fmt.Errorf("registry: parsing front matter: %w", err)
	}
	if fm.Name == "" {
		return Definition{}, fmt.Errorf("registry: descriptor is missing a name")
	}
	return Definition{
		Name:               fm.Name,
		Role:               fm.Role,
		Keywords:           fm.Keywords,
		SpecializedContext: fm.SpecializedContext,
		SystemPrompt:       strings.TrimSpace(body),
	}, nil
}

func splitFrontMatter(source string) (front, body string, err error) {
	const delim = "---"
	scanner := bufio.NewScanner(strings.NewReader(source))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !scanner.Scan() || strings.TrimSpace(scanner.Text()) != delim {
		return "", "", fmt.Errorf("registry: descriptor does not start with %q front matter delimiter", delim)
	}

	var frontLines, bodyLines []string
	inFront := true
	for scanner.Scan() {
		line := scanner.Text()
		if inFront && strings.TrimSpace(line) == delim {
			inFront = false
			continue
		}
		if inFront {
			frontLines = append(frontLines, line)
		} else {
			bodyLines = append(bodyLines, line)
		}
	}
	if inFront {
		return "", "", fmt.Errorf("registry: descriptor front matter is not terminated")
	}
	return strings.Join(frontLines, "\n"), strings.Join(bodyLines, "\n"), scanner.Err()
}

// LoadDefinitions parses each named source's content into a Definition,
// skipping common/coordinator descriptors by name convention, and registers
// the surviving definitions as built-ins (role override + keyword routing)
// on r. sources maps a descriptor name to its raw file content so callers
// can supply in-memory content or read from disk before calling.
func (r *Registry) LoadDefinitions(sources map[string]string) ([]Definition, error) {
	var loaded []Definition
	for name, content := range sources {
		if skippedDefinitionNames[canonical(name)] {
			continue
		}
		def, err := ParseDefinition(content)
		if err != nil {
			return nil, fmt.Errorf("registry: loading definition %q: %w", name, err)
		}
		if skippedDefinitionNames[canonical(def.Name)] {
			continue
		}
		r.RegisterBuiltin(def.Name, def.Role)
		for _, kw := range def.Keywords {
			r.RegisterKeywords(kw, def.Name)
		}
		loaded = append(loaded, def)
	}
	return loaded, nil
}
