package pwsh

import "testing"

func TestCommandText(t *testing.T) {
	tests := []struct {
		name string
		cmd  *Command
		want string
	}{
		{
			name: "string parameters quote single",
			cmd:  NewCommand("Set-PSBreakpoint").Arg("Script", "C:\\repo\\it's.ps1").Arg("Line", 12),
			want: "Set-PSBreakpoint -Script 'C:\\repo\\it''s.ps1' -Line 12",
		},
		{
			name: "switch parameter",
			cmd:  NewCommand("Enable-PSBreakpoint").Arg("Id", 3).Arg("PassThru", true),
			want: "Enable-PSBreakpoint -Id 3 -PassThru",
		},
		{
			name: "negated switch",
			cmd:  NewCommand("Get-Thing").Arg("Recurse", false),
			want: "Get-Thing -Recurse:$false",
		},
		{
			name: "script block renders unquoted braces",
			cmd: NewCommand("Set-PSBreakpoint").Arg("Command", "Get-Widget").
				Arg("Action", ScriptBlock(`if ($count -gt 3) { break }`)),
			want: "Set-PSBreakpoint -Command 'Get-Widget' -Action { if ($count -gt 3) { break } }",
		},
		{
			name: "raw value renders verbatim",
			cmd: NewCommand("Get-PSBreakpoint").
				Arg("Runspace", Raw("(Get-Runspace -InstanceId 'abc')")),
			want: "Get-PSBreakpoint -Runspace (Get-Runspace -InstanceId 'abc')",
		},
		{
			name: "script command verbatim",
			cmd:  NewScript("$items | Measure-Object"),
			want: "$items | Measure-Object",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.cmd.Text(); got != tc.want {
				t.Errorf("Text() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestCommandParamLookup(t *testing.T) {
	cmd := NewCommand("Get-Variable").Arg("Scope", "Global").Arg("Name", "total")

	if v, ok := cmd.Param("Scope"); !ok || v != "Global" {
		t.Errorf("Param(Scope) = %v/%v", v, ok)
	}
	if _, ok := cmd.Param("Missing"); ok {
		t.Error("Param(Missing) reported set")
	}

	names := cmd.ParamNames()
	if len(names) != 2 || names[0] != "Name" || names[1] != "Scope" {
		t.Errorf("ParamNames() = %v, want sorted [Name Scope]", names)
	}
}
